// Package config handles application configuration loading and management.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the application configuration.
type Config struct {
	HTTP       HTTP
	App        App
	Queue      Queue
	Download   Download
	Dir        Dir
	Twitch     Twitch
	History    History
	DepManager DepManager
	Proxy      Proxy
}

// App holds application-wide configuration.
type App struct {
	LogLevel  string `env:"VODKEEP_APP_LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"VODKEEP_APP_LOG_FORMAT" envDefault:"json"`
}

// HTTP holds HTTP server configuration.
type HTTP struct {
	Port            string        `env:"VODKEEP_HTTP_PORT"             envDefault:":8080"`
	HandlerTimeout  time.Duration `env:"VODKEEP_HTTP_HANDLER_TIMEOUT"  envDefault:"20s"`
	ShutdownTimeout time.Duration `env:"VODKEEP_HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Queue holds scheduler configuration.
type Queue struct {
	TickInterval time.Duration `env:"VODKEEP_QUEUE_TICK_INTERVAL" envDefault:"2s"`
	// RemoveCompleted drops finished jobs from the queue once they complete.
	RemoveCompleted bool `env:"VODKEEP_QUEUE_REMOVE_COMPLETED" envDefault:"false"`
}

// Download holds segment download configuration.
type Download struct {
	// ConnectionLimit caps connections per host; segment parallelism is one less.
	ConnectionLimit int           `env:"VODKEEP_DOWNLOAD_CONNECTION_LIMIT" envDefault:"10"`
	Retries         int           `env:"VODKEEP_DOWNLOAD_RETRIES"          envDefault:"3"`
	RetryDelay      time.Duration `env:"VODKEEP_DOWNLOAD_RETRY_DELAY"      envDefault:"20s"`
	// RequestTimeout bounds a single HTTP request, zero disables it.
	RequestTimeout time.Duration `env:"VODKEEP_DOWNLOAD_REQUEST_TIMEOUT" envDefault:"2m"`
}

// Dir holds directory paths for downloads and temporary segment storage.
type Dir struct {
	Downloads string `env:"VODKEEP_DIR_DOWNLOAD" envDefault:"./data/downloads"`
	Temp      string `env:"VODKEEP_DIR_TEMP"     envDefault:"./data/tmp"`
}

// SetAbsPaths converts all directory paths to absolute paths.
func (c *Dir) SetAbsPaths() error {
	var err error
	if c.Downloads, err = filepath.Abs(c.Downloads); err != nil {
		return fmt.Errorf("downloads: %w", err)
	}

	if c.Temp, err = filepath.Abs(c.Temp); err != nil {
		return fmt.Errorf("temp: %w", err)
	}

	return nil
}

// Twitch holds the remote endpoints used to resolve a VOD playlist.
type Twitch struct {
	// AccessTokenURL takes the video id.
	AccessTokenURL string `env:"VODKEEP_TWITCH_ACCESS_TOKEN_URL" envDefault:"https://api.twitch.tv/api/vods/%s/access_token"`
	// PlaylistsURL takes the video id, signature and token.
	PlaylistsURL string `env:"VODKEEP_TWITCH_PLAYLISTS_URL" envDefault:"https://usher.twitch.tv/vod/%s?nauthsig=%s&nauth=%s&allow_source=true&player=twitchweb&allow_spectre=true&allow_audio_only=true"` //nolint:lll
	ClientID     string `env:"VODKEEP_TWITCH_CLIENT_ID"     envDefault:""`
}

// History holds job history storage configuration.
type History struct {
	// DBPath is the sqlite database file, empty disables history.
	DBPath string `env:"VODKEEP_HISTORY_DB_PATH" envDefault:"./data/history.db"`
	// Retention is how long finished runs are kept, zero keeps them forever.
	Retention       time.Duration `env:"VODKEEP_HISTORY_RETENTION"        envDefault:"720h"`
	CleanupInterval time.Duration `env:"VODKEEP_HISTORY_CLEANUP_INTERVAL" envDefault:"1h"`
}

// SetAbsPaths converts the database path to an absolute path.
func (h *History) SetAbsPaths() error {
	if h.DBPath == "" {
		return nil
	}

	var err error
	if h.DBPath, err = filepath.Abs(h.DBPath); err != nil {
		return fmt.Errorf("db path: %w", err)
	}

	return nil
}

// New loads configuration from environment variables.
func New() (*Config, error) {
	cfg := &Config{}

	err := env.Parse(cfg)
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}

	err = cfg.Dir.SetAbsPaths()
	if err != nil {
		return nil, fmt.Errorf("set absolute paths: %w", err)
	}

	err = cfg.History.SetAbsPaths()
	if err != nil {
		return nil, fmt.Errorf("set history absolute paths: %w", err)
	}

	err = cfg.DepManager.SetAbsPaths()
	if err != nil {
		return nil, fmt.Errorf("set dep manager absolute paths: %w", err)
	}

	return cfg, nil
}

// Validate checks values env tags cannot express.
func (c *Config) Validate() error {
	if c.Download.ConnectionLimit < 2 {
		return fmt.Errorf("download connection limit must be at least 2, got %d", c.Download.ConnectionLimit)
	}

	if c.Download.Retries < 0 {
		return fmt.Errorf("download retries must not be negative, got %d", c.Download.Retries)
	}

	if len(c.Proxy.List) > 0 && c.Proxy.MaxFailures < 1 {
		return fmt.Errorf("proxy max failures must be at least 1, got %d", c.Proxy.MaxFailures)
	}

	if c.Queue.TickInterval <= 0 {
		return fmt.Errorf("queue tick interval must be positive, got %s", c.Queue.TickInterval)
	}

	return nil
}

// DepManager holds binary dependency management configuration.
type DepManager struct {
	// BinsDir is the directory where binaries are stored
	BinsDir string `env:"VODKEEP_DEPMANAGER_BINS_DIR" envDefault:"./bins"`
	// UseSystemBinaries indicates whether to use system-installed binaries or download them.
	UseSystemBinaries bool `env:"VODKEEP_DEPMANAGER_USE_SYSTEM_BINARIES" envDefault:"false"`
	// UpdateInterval is how often to check for binary updates
	UpdateInterval time.Duration `env:"VODKEEP_DEPMANAGER_UPDATE_INTERVAL" envDefault:"24h"`

	// ffmpeg binary URLs per platform.
	FFmpegSHA256SumsURL string `env:"VODKEEP_DEPMANAGER_FFMPEG_SHA256SUMS_URL" envDefault:"https://github.com/BtbN/FFmpeg-Builds/releases/latest/download/checksums.sha256"`                        //nolint:lll
	FFmpegLinuxARM64    string `env:"VODKEEP_DEPMANAGER_FFMPEG_LINUX_ARM64" envDefault:"https://github.com/BtbN/FFmpeg-Builds/releases/latest/download/ffmpeg-master-latest-linuxarm64-gpl.tar.xz"` //nolint:lll
	FFmpegLinuxAMD64    string `env:"VODKEEP_DEPMANAGER_FFMPEG_LINUX_AMD64" envDefault:"https://github.com/BtbN/FFmpeg-Builds/releases/latest/download/ffmpeg-master-latest-linux64-gpl.tar.xz"`    //nolint:lll
}

// SetAbsPaths converts the BinsDir path to an absolute path.
func (d *DepManager) SetAbsPaths() error {
	var err error
	if d.BinsDir, err = filepath.Abs(d.BinsDir); err != nil {
		return fmt.Errorf("bins dir: %w", err)
	}

	return nil
}

// Proxy holds the outbound proxy pool used for playlist and segment requests.
type Proxy struct {
	// List holds proxy URLs, e.g. "socks5h://10.0.0.2:1080,http://10.0.0.3:3128". Empty connects directly.
	List []string `env:"VODKEEP_PROXY_LIST" envSeparator:","`
	// HealthCheckInterval is how often every proxy is dialed, zero disables checks.
	HealthCheckInterval time.Duration `env:"VODKEEP_PROXY_HEALTH_CHECK_INTERVAL" envDefault:"5m"`
	// FailureBackoff is the initial backoff of a proxy that reached MaxFailures.
	FailureBackoff time.Duration `env:"VODKEEP_PROXY_FAILURE_BACKOFF" envDefault:"1m"`
	MaxFailures    int           `env:"VODKEEP_PROXY_MAX_FAILURES"    envDefault:"3"`
}
