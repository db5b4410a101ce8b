//go:build integration
// +build integration

package integration_test

import (
	_ "embed"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"vodkeep/internal/config"
	"vodkeep/internal/depmanager"
	"vodkeep/internal/fetcher"
	"vodkeep/internal/muxer"
	"vodkeep/internal/pipeline"
	"vodkeep/internal/segment"
	"vodkeep/internal/storage"
)

//go:embed testdata/fake-ffmpeg.sh
var fakeFFmpegScript string

const (
	videoID = "123456"
	// tokenBody is a public VOD access token response.
	tokenBody = `{"token":"{\"privileged\":false,\"chansub\":{\"restricted_bitrates\":[]}}","sig":"0123456789abcdef"}`
)

// vodServer serves an access token, a master playlist with two qualities,
// a three segment media playlist and its segments. Requests for segment 1
// block until release is closed when hold is set.
type vodServer struct {
	*httptest.Server

	hold    bool
	release chan struct{}
}

func newVODServer(t *testing.T, hold bool) *vodServer {
	t.Helper()

	vs := &vodServer{hold: hold, release: make(chan struct{})}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/vods/{id}/access_token", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, tokenBody)
	})
	mux.HandleFunc("GET /vod/{id}", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, "#EXTM3U\n"+
			"#EXT-X-STREAM-INF:BANDWIDTH=6000000,VIDEO=\"chunked\"\n%[1]s/abc/chunked/index-dvr.m3u8\n"+
			"#EXT-X-STREAM-INF:BANDWIDTH=3000000,VIDEO=\"720p60\"\n%[1]s/abc/720p60/index-dvr.m3u8\n", vs.URL)
	})
	mux.HandleFunc("GET /abc/{quality}/index-dvr.m3u8", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "#EXTM3U\n#EXT-X-TARGETDURATION:10\n"+
			"#EXTINF:10.000,\n0.ts\n#EXTINF:10.000,\n1.ts\n#EXTINF:10.000,\n2.ts\n#EXT-X-ENDLIST\n")
	})
	mux.HandleFunc("GET /abc/{quality}/{segment}", func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimSuffix(r.PathValue("segment"), ".ts")
		if vs.hold && name == "1" {
			<-vs.release
		}

		_, _ = io.WriteString(w, "seg"+name+";")
	})

	vs.Server = httptest.NewServer(mux)

	t.Cleanup(func() {
		vs.unblock()
		vs.Close()
	})

	return vs
}

func (vs *vodServer) unblock() {
	select {
	case <-vs.release:
	default:
		close(vs.release)
	}
}

type fixture struct {
	cfg     *config.Config
	vod     *vodServer
	runner  *pipeline.Pipeline
	fetcher *fetcher.Fetcher
	history storage.Storer
}

// newFixture wires the real pipeline against a fake VOD server and a fake ffmpeg found on PATH.
func newFixture(t *testing.T, mode string, hold bool) *fixture {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("integration fake ffmpeg helper uses shell script")
	}

	baseDir := t.TempDir()
	binsDir := filepath.Join(baseDir, "bins")

	if err := os.MkdirAll(binsDir, 0o755); err != nil {
		t.Fatalf("mkdir bins dir: %v", err)
	}

	if err := os.WriteFile(filepath.Join(binsDir, "ffmpeg"), []byte(fakeFFmpegScript), 0o755); err != nil { //nolint:gosec
		t.Fatalf("write fake ffmpeg: %v", err)
	}

	t.Setenv("PATH", binsDir+string(os.PathListSeparator)+os.Getenv("PATH"))
	t.Setenv("VODKEEP_FAKE_MODE", mode)

	cfg, err := config.New()
	if err != nil {
		t.Fatalf("config new: %v", err)
	}

	vod := newVODServer(t, hold)

	cfg.DepManager.BinsDir = binsDir
	cfg.DepManager.UseSystemBinaries = true
	cfg.Dir.Downloads = filepath.Join(baseDir, "downloads")
	cfg.Dir.Temp = filepath.Join(baseDir, "tmp")
	cfg.History.DBPath = filepath.Join(baseDir, "history.db")
	cfg.Queue.TickInterval = 20 * time.Millisecond
	cfg.Download.RetryDelay = 10 * time.Millisecond
	cfg.Twitch.AccessTokenURL = vod.URL + "/api/vods/%s/access_token"
	cfg.Twitch.PlaylistsURL = vod.URL + "/vod/%s?nauthsig=%s&nauth=%s"

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	depMgr := depmanager.New(log, cfg)
	if err := depMgr.Start(t.Context()); err != nil {
		t.Fatalf("depmanager start: %v", err)
	}

	history, err := storage.New(t.Context(), log, cfg)
	if err != nil {
		t.Fatalf("storage new: %v", err)
	}

	t.Cleanup(func() { _ = history.Close() })

	fetch := fetcher.New(log, cfg, vod.Client())
	segments := segment.New(log, cfg, vod.Client(), nil)
	encoder := muxer.New(log, depMgr, nil)

	return &fixture{
		cfg:     cfg,
		vod:     vod,
		runner:  pipeline.New(log, fetch, segments, encoder, depMgr),
		fetcher: fetch,
		history: history,
	}
}
