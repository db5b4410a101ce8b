// Package muxer concatenates downloaded segments into the output file with ffmpeg.
package muxer

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"vodkeep/internal/errs"
	"vodkeep/internal/observability"
	"vodkeep/internal/playlist"
	"vodkeep/pkg/calc"
	"vodkeep/pkg/shellquote"
)

// tailLines is how many non progress output lines are kept for failure reports.
const tailLines = 20

// Reporter receives progress, the indeterminate encoding flag and log lines of the owning job.
type Reporter interface {
	SetProgress(percent int)
	SetEncoding(encoding bool)
	AppendLog(line string)
}

// Locator resolves the encoder binary.
type Locator interface {
	FFmpegPath() string
}

// Muxer runs the encoder.
type Muxer struct {
	log     *slog.Logger
	bin     Locator
	metrics *observability.Metrics
	command func(name string, args ...string) *exec.Cmd
}

// New returns a Muxer.
func New(log *slog.Logger, bin Locator, metrics *observability.Metrics) *Muxer {
	return &Muxer{
		log:     log.With(slog.String("package", "muxer")),
		bin:     bin,
		metrics: metrics,
		command: exec.Command,
	}
}

// Args builds the encoder arguments for a concat manifest.
func Args(manifest, output string, plan playlist.CropPlan) []string {
	args := []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", manifest,
		"-analyzeduration", strconv.Itoa(math.MaxInt32),
		"-probesize", strconv.Itoa(math.MaxInt32),
		"-c:v", "copy",
		"-c:a", "copy",
		"-bsf:a", "aac_adtstoasc",
	}

	if plan.CropStart {
		args = append(args, "-ss", formatSeconds(plan.Start))
	}

	if plan.CropEnd {
		args = append(args, "-t", formatSeconds(plan.Length))
	}

	return append(args, output)
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ParseProgress extracts the time= value of an encoder progress line such as
// "frame= 1200 fps=0.0 q=-1.0 size= 20480kB time=00:00:48.04 bitrate=3492.1kbits/s".
// It reports false for lines that are not progress lines or carry no usable time.
func ParseProgress(line string) (time.Duration, bool) {
	line = strings.TrimSpace(line)
	if len(line) < len("frame") || !strings.EqualFold(line[:len("frame")], "frame") {
		return 0, false
	}

	_, rest, found := strings.Cut(line, "time")
	if !found {
		return 0, false
	}

	_, rest, found = strings.Cut(rest, "=")
	if !found {
		return 0, false
	}

	value, _, _ := strings.Cut(strings.TrimSpace(rest), " ")

	return parseClock(value)
}

// parseClock parses HH:MM:SS[.fraction], hours may exceed 23.
func parseClock(s string) (time.Duration, bool) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, false
	}

	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 {
		return 0, false
	}

	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}

	sec, err := strconv.ParseFloat(parts[2], 64)
	if err != nil || sec < 0 || sec >= 60 {
		return 0, false
	}

	d := time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(math.Round(sec*float64(time.Second)))

	return d, true
}

// tracker turns encoder output into job progress.
type tracker struct {
	mu       sync.Mutex
	expected time.Duration
	rep      Reporter
	tail     []string
}

func (t *tracker) line(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !strings.HasPrefix(strings.ToLower(line), "frame") {
		t.tail = append(t.tail, line)
		if len(t.tail) > tailLines {
			t.tail = t.tail[1:]
		}

		return
	}

	if t.expected == 0 {
		return
	}

	current, ok := ParseProgress(line)
	if !ok {
		t.rep.SetEncoding(true)

		return
	}

	t.rep.SetEncoding(false)
	t.rep.SetProgress(calc.Ratio(current, t.expected))
}

func (t *tracker) lastLines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]string(nil), t.tail...)
}

// scanLines splits on \n, \r\n or a lone \r, the encoder rewrites its progress line with \r.
func scanLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		advance := i + 1
		if data[i] == '\r' && i+1 < len(data) && data[i+1] == '\n' {
			advance++
		}

		return advance, data[:i], nil
	}

	if atEOF {
		return len(data), data, nil
	}

	return 0, nil, nil
}

func (t *tracker) consume(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Split(scanLines)

	for scanner.Scan() {
		t.line(scanner.Text())
	}

	if err := scanner.Err(); err != nil {
		// keep the pipe empty so the encoder can exit and Wait returns
		_, _ = io.Copy(io.Discard, r)

		return fmt.Errorf("%w: read encoder output: %w", errs.ErrProcess, err)
	}

	return nil
}

// Mux runs the encoder over the manifest and writes output. The encoder is not
// tied to ctx: once started it runs until it exits.
func (m *Muxer) Mux(ctx context.Context, manifest, output string, plan playlist.CropPlan, rep Reporter) error {
	bin := m.bin.FFmpegPath()
	if bin == "" {
		return fmt.Errorf("%w: ffmpeg", errs.ErrBinaryNotFound)
	}

	args := Args(manifest, output, plan)
	cmdLine := shellquote.Join(bin, args)

	rep.SetEncoding(true)
	rep.AppendLog(fmt.Sprintf("Executing '%s' on local playlist...", bin))
	rep.AppendLog("Command line: " + cmdLine)
	m.log.DebugContext(ctx, "executing ffmpeg", slog.String("cmd", cmdLine))

	cmd := m.command(bin, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: stdout pipe: %w", errs.ErrProcess, err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("%w: stderr pipe: %w", errs.ErrProcess, err)
	}

	stop := m.metrics.MuxTimer()

	if err := cmd.Start(); err != nil {
		m.metrics.RecordMuxFailure()

		return fmt.Errorf("%w: start ffmpeg: %w", errs.ErrProcess, err)
	}

	t := &tracker{
		expected: time.Duration(plan.Expected * float64(time.Second)),
		rep:      rep,
	}

	var (
		wg                   sync.WaitGroup
		stdoutErr, stderrErr error
	)

	wg.Go(func() { stdoutErr = t.consume(stdout) })
	wg.Go(func() { stderrErr = t.consume(stderr) })
	wg.Wait()

	waitErr := cmd.Wait()

	stop()

	if waitErr != nil {
		m.metrics.RecordMuxFailure()

		for _, line := range t.lastLines() {
			rep.AppendLog(line)
		}

		m.log.ErrorContext(ctx, "ffmpeg failed", slog.Any("error", waitErr), slog.String("output", output))

		return fmt.Errorf("%w: an error occurred while encoding the video: %w", errs.ErrProcess, waitErr)
	}

	if stdoutErr != nil {
		return stdoutErr
	}

	if stderrErr != nil {
		return stderrErr
	}

	rep.AppendLog("Encoding complete!")

	return nil
}
