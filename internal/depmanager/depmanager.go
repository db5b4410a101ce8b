// Package depmanager provides the ffmpeg binary used by the muxer. It either
// looks ffmpeg up in PATH or downloads a static build into the bins directory
// and keeps it current. Checksums only detect new releases, they do not verify downloads.
package depmanager

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"vodkeep/internal/config"
	"vodkeep/internal/errs"
)

const (
	ffmpegBinary = "ffmpeg"

	platformLinux = "linux"
	archARM64     = "arm64"
	archAMD64     = "amd64"
)

const (
	// downloadTimeout bounds a single archive or checksum download.
	downloadTimeout = 10 * time.Minute

	filePermExecutable = 0o755
	filePermReadWrite  = 0o644

	sha256HexLength   = 64
	savedSumsFilename = ".sha256sums.json"
)

// Platform is an OS and architecture pair.
type Platform struct {
	OS   string
	Arch string
}

func (p Platform) String() string {
	return p.OS + "/" + p.Arch
}

// Manager resolves and maintains the ffmpeg binary.
type Manager struct {
	log      *slog.Logger
	cfg      *config.Config
	platform Platform
	client   *http.Client

	mu         sync.RWMutex
	remoteSums map[string]string // archive name -> sha256 of the latest release
	savedSums  map[string]string // archive name -> sha256 of the installed release
	ffmpegPath string

	updating atomic.Bool
}

// New returns a Manager for the running platform.
func New(log *slog.Logger, cfg *config.Config) *Manager {
	return &Manager{
		log:        log.With(slog.String("package", "depmanager")),
		cfg:        cfg,
		platform:   Platform{OS: runtime.GOOS, Arch: runtime.GOARCH},
		client:     &http.Client{Timeout: downloadTimeout},
		remoteSums: make(map[string]string),
		savedSums:  make(map[string]string),
	}
}

// Start resolves ffmpeg. Downloaded builds are checked for updates every
// UpdateInterval until ctx is done.
func (m *Manager) Start(ctx context.Context) error {
	if m.cfg.DepManager.UseSystemBinaries {
		return m.UseSystemBinary()
	}

	if err := m.Install(ctx); err != nil {
		return err
	}

	if m.cfg.DepManager.UpdateInterval > 0 {
		go m.updateLoop(ctx, m.cfg.DepManager.UpdateInterval)
	}

	return nil
}

// FFmpegPath returns the resolved ffmpeg path, empty before Start succeeded.
func (m *Manager) FFmpegPath() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.ffmpegPath
}

func (m *Manager) setFFmpegPath(p string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ffmpegPath = p
}

// UseSystemBinary resolves ffmpeg from PATH.
func (m *Manager) UseSystemBinary() error {
	p, err := exec.LookPath(ffmpegBinary)
	if err != nil {
		return fmt.Errorf("%w: %s not in PATH: %w", errs.ErrBinaryNotFound, ffmpegBinary, err)
	}

	m.setFFmpegPath(p)
	m.log.Info("using system ffmpeg", slog.String("path", p))

	return nil
}

// binPath is where a downloaded ffmpeg lives.
func (m *Manager) binPath() string {
	return filepath.Join(m.cfg.DepManager.BinsDir, ffmpegBinary)
}

// Install downloads ffmpeg unless a previous run already did, then records
// the current release checksums for update checks.
func (m *Manager) Install(ctx context.Context) error {
	log := m.log

	if err := os.MkdirAll(m.cfg.DepManager.BinsDir, filePermExecutable); err != nil {
		return fmt.Errorf("create bins directory: %w", err)
	}

	if err := m.loadSavedSums(); err != nil {
		log.DebugContext(ctx, "no saved checksums found, first run", slog.Any("error", err))
	}

	if info, err := os.Stat(m.binPath()); err == nil && info.Size() > 0 {
		log.DebugContext(ctx, "ffmpeg already installed", slog.String("path", m.binPath()))
		m.setFFmpegPath(m.binPath())
	} else if err := m.downloadAndInstall(ctx); err != nil {
		return err
	}

	if err := m.FetchSHASums(ctx); err != nil {
		log.WarnContext(ctx, "failed to fetch checksums", slog.Any("error", err))

		return nil
	}

	if err := m.saveSums(); err != nil {
		log.WarnContext(ctx, "failed to save checksums", slog.Any("error", err))
	}

	return nil
}

func (m *Manager) updateLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckForUpdate(ctx)
		}
	}
}

// CheckForUpdate reinstalls ffmpeg when the published checksum of its archive changed.
func (m *Manager) CheckForUpdate(ctx context.Context) {
	if !m.updating.CompareAndSwap(false, true) {
		return
	}
	defer m.updating.Store(false)

	log := m.log.With(slog.String("action", "update_check"))

	if err := m.FetchSHASums(ctx); err != nil {
		log.WarnContext(ctx, "failed to fetch checksums", slog.Any("error", err))

		return
	}

	if !m.updateAvailable() {
		log.DebugContext(ctx, "ffmpeg is up to date")

		return
	}

	if err := m.downloadAndInstall(ctx); err != nil {
		log.ErrorContext(ctx, "ffmpeg update failed", slog.Any("error", err))

		return
	}

	if err := m.saveSums(); err != nil {
		log.WarnContext(ctx, "failed to save checksums", slog.Any("error", err))
	}

	log.InfoContext(ctx, "ffmpeg updated")
}

func (m *Manager) updateAvailable() bool {
	archiveURL, err := m.archiveURL()
	if err != nil {
		return false
	}

	name := archiveName(archiveURL)

	m.mu.RLock()
	defer m.mu.RUnlock()

	remote, ok := m.remoteSums[name]
	if !ok {
		return false
	}

	return m.savedSums[name] != remote
}

// archiveURL returns the configured build archive for the platform.
func (m *Manager) archiveURL() (string, error) {
	cfg := m.cfg.DepManager

	if m.platform.OS != platformLinux {
		return "", fmt.Errorf("%w: %s, set VODKEEP_DEPMANAGER_USE_SYSTEM_BINARIES", errs.ErrUnsupportedPlatform, m.platform)
	}

	var u string

	switch m.platform.Arch {
	case archARM64:
		u = cfg.FFmpegLinuxARM64
	case archAMD64:
		u = cfg.FFmpegLinuxAMD64
	}

	if u == "" {
		return "", fmt.Errorf("%w: no ffmpeg build configured for %s", errs.ErrUnsupportedPlatform, m.platform)
	}

	return u, nil
}

// archiveName is the file name of an archive url as listed in checksum files.
func archiveName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return path.Base(rawURL)
	}

	return path.Base(u.Path)
}

func (m *Manager) downloadAndInstall(ctx context.Context) error {
	archiveURL, err := m.archiveURL()
	if err != nil {
		return err
	}

	log := m.log.With(slog.String("url", archiveURL))
	log.InfoContext(ctx, "downloading ffmpeg")

	tmpPath, err := m.download(ctx, archiveURL)
	if err != nil {
		return err
	}
	defer os.Remove(tmpPath)

	staged := m.binPath() + ".new"

	if err := extract(tmpPath, archiveName(archiveURL), ffmpegBinary, staged); err != nil {
		return fmt.Errorf("extract ffmpeg: %w", err)
	}

	// rename keeps a running encoder on the old inode
	if err := os.Rename(staged, m.binPath()); err != nil {
		_ = os.Remove(staged)

		return fmt.Errorf("install ffmpeg: %w", err)
	}

	m.setFFmpegPath(m.binPath())
	log.InfoContext(ctx, "ffmpeg installed", slog.String("path", m.binPath()))

	return nil
}

// download stores the body of rawURL in a temp file inside the bins directory.
func (m *Manager) download(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: download: %w", errs.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: download %s: unexpected status %d", errs.ErrNetwork, rawURL, resp.StatusCode)
	}

	tmpFile, err := os.CreateTemp(m.cfg.DepManager.BinsDir, "download-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	if _, err := io.Copy(tmpFile, resp.Body); err != nil {
		tmpFile.Close()
		os.Remove(tmpFile.Name())

		return "", fmt.Errorf("%w: write archive: %w", errs.ErrNetwork, err)
	}

	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpFile.Name())

		return "", fmt.Errorf("close temp file: %w", err)
	}

	return tmpFile.Name(), nil
}

// FetchSHASums downloads the configured checksum list.
func (m *Manager) FetchSHASums(ctx context.Context) error {
	sumsURL := strings.TrimSpace(m.cfg.DepManager.FFmpegSHA256SumsURL)
	if sumsURL == "" {
		return fmt.Errorf("no ffmpeg checksum url configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sumsURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: fetch checksums: %w", errs.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: fetch checksums: unexpected status %d", errs.ErrNetwork, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read checksums: %w", errs.ErrNetwork, err)
	}

	sums := ParseSHASums(string(body))

	m.mu.Lock()
	maps.Copy(m.remoteSums, sums)
	m.mu.Unlock()

	m.log.DebugContext(ctx, "parsed checksums", slog.Int("count", len(sums)))

	return nil
}

// ParseSHASums reads "hash  filename" lines, skipping anything malformed.
// A leading '*' marking binary mode is dropped from the file name.
func ParseSHASums(content string) map[string]string {
	sums := make(map[string]string)

	for line := range strings.SplitSeq(content, "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 || len(fields[0]) != sha256HexLength {
			continue
		}

		sums[strings.TrimPrefix(fields[1], "*")] = strings.ToLower(fields[0])
	}

	return sums
}

func (m *Manager) loadSavedSums() error {
	data, err := os.ReadFile(filepath.Join(m.cfg.DepManager.BinsDir, savedSumsFilename))
	if err != nil {
		return fmt.Errorf("read checksums file: %w", err)
	}

	saved := make(map[string]string)
	if err := json.Unmarshal(data, &saved); err != nil {
		return fmt.Errorf("unmarshal checksums: %w", err)
	}

	m.mu.Lock()
	m.savedSums = saved
	m.mu.Unlock()

	return nil
}

// saveSums persists the remote checksums as the installed ones.
func (m *Manager) saveSums() error {
	m.mu.RLock()
	data, err := json.MarshalIndent(m.remoteSums, "", "  ")
	m.mu.RUnlock()

	if err != nil {
		return fmt.Errorf("marshal checksums: %w", err)
	}

	if err := os.WriteFile(filepath.Join(m.cfg.DepManager.BinsDir, savedSumsFilename), data, filePermReadWrite); err != nil {
		return fmt.Errorf("write checksums file: %w", err)
	}

	m.mu.Lock()
	m.savedSums = maps.Clone(m.remoteSums)
	m.mu.Unlock()

	return nil
}
