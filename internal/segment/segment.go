// Package segment downloads playlist segments with bounded parallelism and retries.
package segment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"vodkeep/internal/config"
	"vodkeep/internal/errs"
	"vodkeep/internal/observability"
	"vodkeep/internal/playlist"
	"vodkeep/pkg/calc"
)

// Reporter receives progress and log lines of the owning job.
type Reporter interface {
	SetProgress(percent int)
	AppendLog(line string)
}

// Downloader fetches segments to their local paths.
type Downloader struct {
	log        *slog.Logger
	client     *http.Client
	metrics    *observability.Metrics
	limit      int
	parallel   int
	retries    int
	retryDelay time.Duration
	timeout    time.Duration
}

// NewTransport returns a transport capped at the configured connections per host.
func NewTransport(cfg config.Download) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone() //nolint:forcetypeassert
	transport.MaxConnsPerHost = cfg.ConnectionLimit
	transport.MaxIdleConnsPerHost = cfg.ConnectionLimit

	return transport
}

// NewClient returns an HTTP client over NewTransport.
func NewClient(cfg config.Download) *http.Client {
	return &http.Client{Transport: NewTransport(cfg)}
}

// New returns a Downloader running up to ConnectionLimit-1 fetches at once.
func New(log *slog.Logger, cfg *config.Config, client *http.Client, metrics *observability.Metrics) *Downloader {
	if client == nil {
		client = NewClient(cfg.Download)
	}

	return &Downloader{
		log:        log.With(slog.String("package", "segment")),
		client:     client,
		metrics:    metrics,
		limit:      cfg.Download.ConnectionLimit,
		parallel:   max(1, cfg.Download.ConnectionLimit-1),
		retries:    max(0, cfg.Download.Retries),
		retryDelay: cfg.Download.RetryDelay,
		timeout:    cfg.Download.RequestTimeout,
	}
}

// progress counts completed segments and reports them as a percentage.
type progress struct {
	mu        sync.Mutex
	log       *slog.Logger
	started   time.Time
	completed int
	total     int
	bytes     int64
	rep       Reporter
}

func (p *progress) done(n int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.completed++
	p.bytes += n
	p.rep.SetProgress(calc.Percent(p.completed, p.total))
	p.log.Debug("segment done",
		slog.Int("completed", p.completed), slog.Int("total", p.total),
		slog.Duration("eta", calc.ETA(p.completed, p.total, p.started)))
}

func (p *progress) snapshot() (int, int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.completed, p.bytes
}

// Download fetches every segment. Cancellation of ctx stops dispatching new
// fetches and aborts pending retry waits, fetches already started run to completion.
// The first segment that exhausts its retries fails the whole download.
func (d *Downloader) Download(ctx context.Context, segments []playlist.Entry, rep Reporter) error {
	total := len(segments)
	if total == 0 {
		return fmt.Errorf("%w: no segments to download", errs.ErrValidation)
	}

	rep.AppendLog("Starting parallel video chunk download")
	rep.AppendLog(fmt.Sprintf("Number of video chunks to download: %d", total))
	rep.AppendLog(fmt.Sprintf("Maximum connection count: %d", d.limit))

	prog := &progress{log: d.log, started: time.Now(), total: total, rep: rep}
	fetchCtx := context.WithoutCancel(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.parallel)

	for _, s := range segments {
		if gctx.Err() != nil {
			break
		}

		g.Go(func() error {
			// Go may have blocked for a free slot while the download was stopped.
			if gctx.Err() != nil {
				return nil
			}

			return d.fetchWithRetry(gctx, fetchCtx, s, prog, rep)
		})
	}

	err := g.Wait()

	completed, size := prog.snapshot()
	if completed == total {
		rep.SetProgress(100)
		rep.AppendLog(fmt.Sprintf("Download of all video chunks complete! (%s)", humanize.Bytes(uint64(max(size, 0)))))

		return nil
	}

	if err != nil {
		return err
	}

	return fmt.Errorf("download stopped after %d of %d segments: %w", completed, total, ctx.Err())
}

func (d *Downloader) fetchWithRetry(waitCtx, fetchCtx context.Context, s playlist.Entry, prog *progress, rep Reporter) error {
	for attempt := 0; ; attempt++ {
		start := time.Now()

		data, err := d.fetch(fetchCtx, s.URL)
		if err == nil {
			if err := write(s.LocalPath, data); err != nil {
				return err
			}

			d.metrics.RecordSegment(int64(len(data)), time.Since(start))
			prog.done(int64(len(data)))

			return nil
		}

		if attempt >= d.retries {
			d.metrics.RecordSegmentFailure()

			return fmt.Errorf("could not download file '%s' after %d retries: %w", s.URL, d.retries, err)
		}

		d.metrics.RecordSegmentRetry()
		d.log.Warn("segment fetch failed, retrying",
			slog.String("url", s.URL), slog.Int("attempt", attempt+1), slog.Duration("delay", d.retryDelay), slog.Any("error", err))
		rep.AppendLog(fmt.Sprintf("Downloading file '%s' failed! Trying again in %s", s.URL, d.retryDelay))
		rep.AppendLog(err.Error())

		timer := time.NewTimer(d.retryDelay)

		select {
		case <-waitCtx.Done():
			timer.Stop()

			return fmt.Errorf("retry of '%s' abandoned: %w", s.URL, context.Cause(waitCtx))
		case <-timer.C:
		}
	}
}

func (d *Downloader) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", errs.ErrValidation, err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("%w: unexpected status %s", errs.ErrNetwork, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", errs.ErrNetwork, err)
	}

	return data, nil
}

// write replaces any stale file at path with data.
func write(path string, data []byte) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove stale segment: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec
		return fmt.Errorf("write segment: %w", err)
	}

	return nil
}
