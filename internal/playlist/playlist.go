// Package playlist models a flat segmented (HLS media) playlist and the
// crop arithmetic applied to it before download.
package playlist

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"vodkeep/internal/consts"
	"vodkeep/internal/errs"
	"vodkeep/pkg/shellquote"
	"vodkeep/pkg/urls"
)

const tagSegment = "#EXTINF:"

// Kind tags an Entry.
type Kind int

const (
	// KindDirective is a structural line that is not downloaded.
	KindDirective Kind = iota
	// KindSegment is a downloadable chunk.
	KindSegment
)

func (k Kind) String() string {
	if k == KindSegment {
		return "segment"
	}

	return "directive"
}

// Entry is one element of a playlist. Segments and directives share the index space.
type Entry struct {
	Kind  Kind
	Index int
	// Line is the directive payload, or the #EXTINF tag of a segment.
	Line string

	// Segment only.
	URL       string
	LocalPath string
	Duration  float64 // seconds
}

// Playlist is an ordered list of entries sorted by Index.
type Playlist struct {
	Entries []Entry
}

// Parse reads playlist text. An #EXTINF tag and the URI line following it form
// one segment; every other non-blank line is a directive. Relative segment URIs
// are resolved against urlPrefix and local paths are placed under tempDir.
func Parse(text, urlPrefix, tempDir string) (*Playlist, error) {
	p := &Playlist{}
	index := 0

	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if !strings.HasPrefix(line, tagSegment) {
			p.Entries = append(p.Entries, Entry{Kind: KindDirective, Index: index, Line: line})
			index++

			continue
		}

		duration, err := parseDuration(line)
		if err != nil {
			return nil, err
		}

		uri := ""

		for scanner.Scan() {
			uri = strings.TrimSpace(scanner.Text())
			if uri != "" {
				break
			}
		}

		if uri == "" || strings.HasPrefix(uri, "#") {
			return nil, fmt.Errorf("%w: segment %d has no uri", errs.ErrValidation, index)
		}

		p.Entries = append(p.Entries, Entry{
			Kind:      KindSegment,
			Index:     index,
			Line:      line,
			URL:       urls.Resolve(urlPrefix, uri),
			LocalPath: filepath.Join(tempDir, fmt.Sprintf("%08d%s", index, consts.SegmentExt)),
			Duration:  duration,
		})
		index++
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: scan playlist: %w", errs.ErrValidation, err)
	}

	if len(p.Segments()) == 0 {
		return nil, fmt.Errorf("%w: playlist has no segments", errs.ErrValidation)
	}

	return p, nil
}

// parseDuration reads the duration of "#EXTINF:<seconds>[,<title>]".
func parseDuration(tag string) (float64, error) {
	raw := strings.TrimPrefix(tag, tagSegment)
	if i := strings.IndexByte(raw, ','); i >= 0 {
		raw = raw[:i]
	}

	d, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%w: bad segment duration %q", errs.ErrValidation, tag)
	}

	return d, nil
}

// Segments returns the segment entries in index order.
func (p *Playlist) Segments() []Entry {
	segments := make([]Entry, 0, len(p.Entries))

	for _, e := range p.Entries {
		if e.Kind == KindSegment {
			segments = append(segments, e)
		}
	}

	return segments
}

// Duration returns the summed duration of all segments in seconds.
func (p *Playlist) Duration() float64 {
	var sum float64

	for _, e := range p.Entries {
		if e.Kind == KindSegment {
			sum += e.Duration
		}
	}

	return sum
}

// Manifest renders the encoder concat list, one file line per segment in index order.
func (p *Playlist) Manifest() string {
	var b strings.Builder

	for _, e := range p.Entries {
		if e.Kind != KindSegment {
			continue
		}

		b.WriteString("file ")
		b.WriteString(shellquote.Single(e.LocalPath))
		b.WriteByte('\n')
	}

	return b.String()
}

// WriteManifest replaces the file at path with Manifest.
func (p *Playlist) WriteManifest(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove stale manifest: %w", err)
	}

	if err := os.WriteFile(path, []byte(p.Manifest()), 0o644); err != nil { //nolint:gosec
		return fmt.Errorf("write manifest: %w", err)
	}

	return nil
}
