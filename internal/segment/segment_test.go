package segment_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	"vodkeep/internal/config"
	"vodkeep/internal/errs"
	"vodkeep/internal/playlist"
	"vodkeep/internal/segment"
)

type rtFunc func(*http.Request) (*http.Response, error)

func (f rtFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func ok(r *http.Request, body string) *http.Response {
	return &http.Response{StatusCode: http.StatusOK, Status: "200 OK", Body: io.NopCloser(strings.NewReader(body)), Header: make(http.Header), Request: r}
}

func status(r *http.Request, code int) *http.Response {
	return &http.Response{StatusCode: code, Status: fmt.Sprintf("%d %s", code, http.StatusText(code)), Body: io.NopCloser(strings.NewReader("")), Header: make(http.Header), Request: r} //nolint:lll
}

// recorder is a segment.Reporter that remembers every progress update.
type recorder struct {
	mu       sync.Mutex
	progress []int
	log      []string
}

func (r *recorder) SetProgress(p int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.progress = append(r.progress, p)
}

func (r *recorder) AppendLog(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.log = append(r.log, line)
}

func (r *recorder) logText() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return strings.Join(r.log, "\n")
}

func segments(dir string, n int) []playlist.Entry {
	out := make([]playlist.Entry, 0, n)
	for i := range n {
		out = append(out, playlist.Entry{
			Kind:      playlist.KindSegment,
			Index:     i,
			URL:       fmt.Sprintf("https://vod.example.com/chunked/%d.ts", i),
			LocalPath: filepath.Join(dir, fmt.Sprintf("%08d.ts", i)),
			Duration:  10,
		})
	}

	return out
}

func newDownloader(connLimit int, rt http.RoundTripper) *segment.Downloader {
	cfg := &config.Config{Download: config.Download{
		ConnectionLimit: connLimit,
		Retries:         3,
		RetryDelay:      20 * time.Second,
	}}

	return segment.New(slog.New(slog.DiscardHandler), cfg, &http.Client{Transport: rt}, nil)
}

func TestDownload(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		dir := t.TempDir()
		segs := segments(dir, 10)

		// stale data from an earlier attempt must be replaced
		if err := os.WriteFile(segs[3].LocalPath, []byte("stale stale stale"), 0o600); err != nil {
			t.Fatal(err)
		}

		d := newDownloader(4, rtFunc(func(r *http.Request) (*http.Response, error) {
			time.Sleep(time.Second)

			return ok(r, "data:"+filepath.Base(r.URL.Path)), nil
		}))

		rec := &recorder{}
		if err := d.Download(t.Context(), segs, rec); err != nil {
			t.Fatalf("Download() failed: %v", err)
		}

		for _, s := range segs {
			data, err := os.ReadFile(s.LocalPath)
			if err != nil {
				t.Fatalf("segment %d not written: %v", s.Index, err)
			}

			if want := fmt.Sprintf("data:%d.ts", s.Index); string(data) != want {
				t.Fatalf("segment %d content = %q, want %q", s.Index, data, want)
			}
		}

		for i := 1; i < len(rec.progress); i++ {
			if rec.progress[i] < rec.progress[i-1] {
				t.Fatalf("progress went backwards: %v", rec.progress)
			}
		}

		if last := rec.progress[len(rec.progress)-1]; last != 100 {
			t.Fatalf("final progress = %d, want 100", last)
		}
	})
}

func TestDownloadParallelismLimit(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		var inflight, peak atomic.Int32

		d := newDownloader(3, rtFunc(func(r *http.Request) (*http.Response, error) {
			n := inflight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}

			time.Sleep(time.Second)
			inflight.Add(-1)

			return ok(r, "x"), nil
		}))

		if err := d.Download(t.Context(), segments(t.TempDir(), 9), &recorder{}); err != nil {
			t.Fatalf("Download() failed: %v", err)
		}

		if got := peak.Load(); got != 2 {
			t.Fatalf("peak concurrent fetches = %d, want connection limit minus one (2)", got)
		}
	})
}

func TestDownloadRetriesThenSucceeds(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		var attempts atomic.Int32

		d := newDownloader(2, rtFunc(func(r *http.Request) (*http.Response, error) {
			if strings.HasSuffix(r.URL.Path, "/1.ts") && attempts.Add(1) <= 3 {
				return nil, errors.New("connection reset by peer")
			}

			return ok(r, "x"), nil
		}))

		start := time.Now()
		rec := &recorder{}

		if err := d.Download(t.Context(), segments(t.TempDir(), 3), rec); err != nil {
			t.Fatalf("Download() failed after 3 failures and a successful 4th attempt: %v", err)
		}

		if got := attempts.Load(); got != 4 {
			t.Fatalf("attempts on failing segment = %d, want 4", got)
		}

		if elapsed := time.Since(start); elapsed != 60*time.Second {
			t.Fatalf("elapsed = %s, want three 20s retry delays", elapsed)
		}

		if n := strings.Count(rec.logText(), "failed! Trying again in 20s"); n != 3 {
			t.Fatalf("retry log lines = %d, want 3", n)
		}
	})
}

func TestDownloadFailsAfterRetries(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		var attempts, fetched atomic.Int32

		d := newDownloader(2, rtFunc(func(r *http.Request) (*http.Response, error) {
			if strings.HasSuffix(r.URL.Path, "/1.ts") {
				attempts.Add(1)

				return status(r, http.StatusBadGateway), nil
			}

			fetched.Add(1)

			return ok(r, "x"), nil
		}))

		rec := &recorder{}

		err := d.Download(t.Context(), segments(t.TempDir(), 5), rec)
		if !errors.Is(err, errs.ErrNetwork) {
			t.Fatalf("Download() error = %v, want network error", err)
		}

		if !strings.Contains(err.Error(), "after 3 retries") {
			t.Fatalf("error %q does not mention retries", err)
		}

		if got := attempts.Load(); got != 4 {
			t.Fatalf("attempts = %d, want 4", got)
		}

		// one fetch at a time: segment 0 completed, 2..4 never dispatched
		if got := fetched.Load(); got != 1 {
			t.Fatalf("other segments fetched = %d, want 1", got)
		}

		for _, p := range rec.progress {
			if p == 100 {
				t.Fatalf("progress reached 100 on a failed download: %v", rec.progress)
			}
		}
	})
}

func TestDownloadCancelStopsDispatch(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		defer cancel()

		var fetched atomic.Int32

		d := newDownloader(2, rtFunc(func(r *http.Request) (*http.Response, error) {
			fetched.Add(1)
			cancel()
			time.Sleep(time.Second)

			// the request in flight is not aborted by job cancellation
			if err := r.Context().Err(); err != nil {
				return nil, err
			}

			return ok(r, "x"), nil
		}))

		dir := t.TempDir()
		segs := segments(dir, 5)

		err := d.Download(ctx, segs, &recorder{})
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Download() error = %v, want context.Canceled", err)
		}

		if got := fetched.Load(); got != 1 {
			t.Fatalf("fetches started = %d, want 1", got)
		}

		if _, err := os.Stat(segs[0].LocalPath); err != nil {
			t.Fatalf("in flight segment was not completed: %v", err)
		}
	})
}

func TestDownloadCancelAbortsRetryWait(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		defer cancel()

		d := newDownloader(2, rtFunc(func(r *http.Request) (*http.Response, error) {
			return nil, errors.New("timeout")
		}))

		go func() {
			time.Sleep(5 * time.Second)
			cancel()
		}()

		start := time.Now()

		err := d.Download(ctx, segments(t.TempDir(), 2), &recorder{})
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Download() error = %v, want context.Canceled", err)
		}

		if elapsed := time.Since(start); elapsed != 5*time.Second {
			t.Fatalf("elapsed = %s, want the retry wait to end at cancellation", elapsed)
		}
	})
}

func TestDownloadEmpty(t *testing.T) {
	d := newDownloader(2, rtFunc(func(r *http.Request) (*http.Response, error) { return ok(r, ""), nil }))

	if err := d.Download(t.Context(), nil, &recorder{}); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("Download(nil) error = %v, want ErrValidation", err)
	}
}
