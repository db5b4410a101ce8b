//nolint:testpackage // using internal package access to cover private helpers
package depmanager

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/ulikunitz/xz"

	"vodkeep/internal/config"
	"vodkeep/internal/errs"
)

const (
	hashA = "abc123def456789012345678901234567890123456789012345678901234abcd"
	hashB = "def456abc789012345678901234567890123456789012345678901234567beef"
)

func TestParseSHASums(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    map[string]string
	}{
		{
			name:    "valid sums",
			content: hashA + "  ffmpeg-master-latest-linux64-gpl.tar.xz\n" + hashB + "  ffmpeg-master-latest-linuxarm64-gpl.tar.xz\n",
			want: map[string]string{
				"ffmpeg-master-latest-linux64-gpl.tar.xz":    hashA,
				"ffmpeg-master-latest-linuxarm64-gpl.tar.xz": hashB,
			},
		},
		{name: "empty content", content: "", want: map[string]string{}},
		{name: "invalid format", content: "not a valid line", want: map[string]string{}},
		{name: "invalid hash length", content: "short  filename", want: map[string]string{}},
		{
			name:    "binary mode marker and upper case",
			content: strings.ToUpper(hashA) + " *ffmpeg.zip\ninvalid line here\n",
			want:    map[string]string{"ffmpeg.zip": hashA},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := ParseSHASums(tc.content)
			if len(got) != len(tc.want) {
				t.Fatalf("got %d sums, want %d: %v", len(got), len(tc.want), got)
			}

			for name, hash := range tc.want {
				if got[name] != hash {
					t.Errorf("hash for %s: got %s, want %s", name, got[name], hash)
				}
			}
		})
	}
}

func TestArchiveURL(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{DepManager: config.DepManager{
		FFmpegLinuxAMD64: "https://builds.example.com/ffmpeg-linux64.tar.xz",
		FFmpegLinuxARM64: "https://builds.example.com/ffmpeg-linuxarm64.tar.xz",
	}}

	tests := []struct {
		name     string
		platform Platform
		want     string
		wantErr  error
	}{
		{name: "linux amd64", platform: Platform{OS: "linux", Arch: "amd64"}, want: cfg.DepManager.FFmpegLinuxAMD64},
		{name: "linux arm64", platform: Platform{OS: "linux", Arch: "arm64"}, want: cfg.DepManager.FFmpegLinuxARM64},
		{name: "linux 386", platform: Platform{OS: "linux", Arch: "386"}, wantErr: errs.ErrUnsupportedPlatform},
		{name: "darwin", platform: Platform{OS: "darwin", Arch: "arm64"}, wantErr: errs.ErrUnsupportedPlatform},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			mgr := New(slog.New(slog.DiscardHandler), cfg)
			mgr.platform = tc.platform

			got, err := mgr.archiveURL()
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("archiveURL() error = %v, want %v", err, tc.wantErr)
			}

			if got != tc.want {
				t.Fatalf("archiveURL() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestArchiveName(t *testing.T) {
	t.Parallel()

	got := archiveName("https://github.com/BtbN/FFmpeg-Builds/releases/latest/download/ffmpeg-master-latest-linux64-gpl.tar.xz?x=1")
	if got != "ffmpeg-master-latest-linux64-gpl.tar.xz" {
		t.Fatalf("archiveName() = %q", got)
	}
}

func tarArchive(t *testing.T, w io.Writer, files map[string]string) {
	t.Helper()

	tw := tar.NewWriter(w)

	for name, content := range files {
		hdr := &tar.Header{Name: name, Mode: 0o755, Size: int64(len(content)), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}

		if _, err := io.WriteString(tw, content); err != nil {
			t.Fatal(err)
		}
	}

	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
}

func buildArchive(t *testing.T, name string, files map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer

	switch {
	case strings.HasSuffix(name, ".tar.xz"):
		xw, err := xz.NewWriter(&buf)
		if err != nil {
			t.Fatal(err)
		}

		tarArchive(t, xw, files)

		if err := xw.Close(); err != nil {
			t.Fatal(err)
		}
	case strings.HasSuffix(name, ".tar.gz"):
		gw := gzip.NewWriter(&buf)
		tarArchive(t, gw, files)

		if err := gw.Close(); err != nil {
			t.Fatal(err)
		}
	case strings.HasSuffix(name, ".zip"):
		zw := zip.NewWriter(&buf)

		for fname, content := range files {
			f, err := zw.Create(fname)
			if err != nil {
				t.Fatal(err)
			}

			if _, err := io.WriteString(f, content); err != nil {
				t.Fatal(err)
			}
		}

		if err := zw.Close(); err != nil {
			t.Fatal(err)
		}
	default:
		buf.WriteString(files["ffmpeg"])
	}

	return buf.Bytes()
}

// buildServer serves one archive and a checksum list for it.
type buildServer struct {
	*httptest.Server

	archive   atomic.Pointer[[]byte]
	sums      atomic.Pointer[string]
	downloads atomic.Int32
}

func newBuildServer(t *testing.T, name string, archive []byte, hash string) *buildServer {
	t.Helper()

	bs := &buildServer{}
	bs.setRelease(name, archive, hash)

	mux := http.NewServeMux()
	mux.HandleFunc("/builds/"+name, func(w http.ResponseWriter, _ *http.Request) {
		bs.downloads.Add(1)
		_, _ = w.Write(*bs.archive.Load())
	})
	mux.HandleFunc("/checksums.sha256", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, *bs.sums.Load())
	})

	bs.Server = httptest.NewServer(mux)
	t.Cleanup(bs.Close)

	return bs
}

func (bs *buildServer) setRelease(name string, archive []byte, hash string) {
	sums := hash + "  " + name + "\n" + hashB + "  unrelated.zip\n"
	bs.archive.Store(&archive)
	bs.sums.Store(&sums)
}

func newManager(t *testing.T, bs *buildServer, name string) *Manager {
	t.Helper()

	cfg := &config.Config{DepManager: config.DepManager{
		BinsDir:             filepath.Join(t.TempDir(), "bins"),
		FFmpegSHA256SumsURL: bs.URL + "/checksums.sha256",
		FFmpegLinuxAMD64:    bs.URL + "/builds/" + name,
	}}

	mgr := New(slog.New(slog.DiscardHandler), cfg)
	mgr.platform = Platform{OS: "linux", Arch: "amd64"}

	return mgr
}

func assertBinary(t *testing.T, mgr *Manager, want string) {
	t.Helper()

	p := mgr.FFmpegPath()
	if p != filepath.Join(mgr.cfg.DepManager.BinsDir, "ffmpeg") {
		t.Fatalf("FFmpegPath() = %q", p)
	}

	data, err := os.ReadFile(p)
	if err != nil {
		t.Fatal(err)
	}

	if string(data) != want {
		t.Fatalf("ffmpeg content = %q, want %q", data, want)
	}

	info, err := os.Stat(p)
	if err != nil {
		t.Fatal(err)
	}

	if info.Mode().Perm()&0o100 == 0 {
		t.Fatalf("ffmpeg is not executable: %v", info.Mode())
	}
}

func TestInstall(t *testing.T) {
	t.Parallel()

	files := map[string]string{
		"ffmpeg-master-latest-linux64-gpl/bin/ffmpeg":  "#!ffmpeg",
		"ffmpeg-master-latest-linux64-gpl/bin/ffprobe": "#!ffprobe",
		"ffmpeg-master-latest-linux64-gpl/LICENSE.txt": "GPL",
	}

	for _, name := range []string{"ffmpeg-linux64.tar.xz", "ffmpeg-linux64.tar.gz", "ffmpeg-linux64.zip"} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			bs := newBuildServer(t, name, buildArchive(t, name, files), hashA)
			mgr := newManager(t, bs, name)

			if err := mgr.Install(t.Context()); err != nil {
				t.Fatalf("Install() failed: %v", err)
			}

			assertBinary(t, mgr, "#!ffmpeg")

			if _, err := os.Stat(filepath.Join(mgr.cfg.DepManager.BinsDir, "ffprobe")); !os.IsNotExist(err) {
				t.Fatalf("unneeded archive member extracted: %v", err)
			}

			saved, err := os.ReadFile(filepath.Join(mgr.cfg.DepManager.BinsDir, savedSumsFilename))
			if err != nil || !strings.Contains(string(saved), hashA) {
				t.Fatalf("checksums not saved: %s, %v", saved, err)
			}
		})
	}
}

func TestInstallPlainBinary(t *testing.T) {
	t.Parallel()

	bs := newBuildServer(t, "ffmpeg", []byte("#!plain"), hashA)
	mgr := newManager(t, bs, "ffmpeg")

	if err := mgr.Install(t.Context()); err != nil {
		t.Fatalf("Install() failed: %v", err)
	}

	assertBinary(t, mgr, "#!plain")
}

func TestInstallSkipsExistingBinary(t *testing.T) {
	t.Parallel()

	const name = "ffmpeg-linux64.tar.xz"

	bs := newBuildServer(t, name, buildArchive(t, name, map[string]string{"bin/ffmpeg": "#!new"}), hashA)
	mgr := newManager(t, bs, name)

	if err := os.MkdirAll(mgr.cfg.DepManager.BinsDir, 0o750); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(filepath.Join(mgr.cfg.DepManager.BinsDir, "ffmpeg"), []byte("#!old"), 0o700); err != nil { //nolint:gosec
		t.Fatal(err)
	}

	if err := mgr.Install(t.Context()); err != nil {
		t.Fatalf("Install() failed: %v", err)
	}

	if n := bs.downloads.Load(); n != 0 {
		t.Fatalf("archive downloaded %d times", n)
	}

	assertBinary(t, mgr, "#!old")
}

func TestInstallMissingTarget(t *testing.T) {
	t.Parallel()

	const name = "ffmpeg-linux64.tar.xz"

	bs := newBuildServer(t, name, buildArchive(t, name, map[string]string{"bin/ffprobe": "#!ffprobe"}), hashA)
	mgr := newManager(t, bs, name)

	err := mgr.Install(t.Context())
	if !errors.Is(err, errTargetNotFound) {
		t.Fatalf("Install() error = %v, want target not found", err)
	}

	if mgr.FFmpegPath() != "" {
		t.Fatalf("FFmpegPath() = %q after failed install", mgr.FFmpegPath())
	}
}

func TestCheckForUpdate(t *testing.T) {
	t.Parallel()

	const name = "ffmpeg-linux64.tar.gz"

	bs := newBuildServer(t, name, buildArchive(t, name, map[string]string{"bin/ffmpeg": "#!v1"}), hashA)
	mgr := newManager(t, bs, name)

	if err := mgr.Install(t.Context()); err != nil {
		t.Fatal(err)
	}

	mgr.CheckForUpdate(t.Context())

	if n := bs.downloads.Load(); n != 1 {
		t.Fatalf("downloads = %d, want 1 when checksums are unchanged", n)
	}

	bs.setRelease(name, buildArchive(t, name, map[string]string{"bin/ffmpeg": "#!v2"}), hashB)
	mgr.CheckForUpdate(t.Context())

	if n := bs.downloads.Load(); n != 2 {
		t.Fatalf("downloads = %d, want 2 after a new release", n)
	}

	assertBinary(t, mgr, "#!v2")

	// the new checksum is now the installed one
	mgr.CheckForUpdate(t.Context())

	if n := bs.downloads.Load(); n != 2 {
		t.Fatalf("downloads = %d, want no further download", n)
	}
}

func TestUseSystemBinary(t *testing.T) {
	dir := t.TempDir()

	if err := os.WriteFile(filepath.Join(dir, "ffmpeg"), []byte("#!/bin/sh\n"), 0o700); err != nil { //nolint:gosec
		t.Fatal(err)
	}

	t.Setenv("PATH", dir)

	mgr := New(slog.New(slog.DiscardHandler), &config.Config{DepManager: config.DepManager{UseSystemBinaries: true}})

	if err := mgr.Start(t.Context()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	if got := mgr.FFmpegPath(); got != filepath.Join(dir, "ffmpeg") {
		t.Fatalf("FFmpegPath() = %q", got)
	}

	t.Setenv("PATH", t.TempDir())

	if err := mgr.UseSystemBinary(); !errors.Is(err, errs.ErrBinaryNotFound) {
		t.Fatalf("UseSystemBinary() error = %v, want ErrBinaryNotFound", err)
	}
}
