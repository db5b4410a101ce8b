// Package pipeline runs a single download job from playlist resolution to the encoded output file.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"vodkeep/internal/consts"
	"vodkeep/internal/entity"
	"vodkeep/internal/errs"
	"vodkeep/internal/muxer"
	"vodkeep/internal/playlist"
	"vodkeep/internal/segment"
)

// PlaylistSource resolves and fetches the media playlist of a VOD.
type PlaylistSource interface {
	PlaylistURL(ctx context.Context, videoID string, auth entity.VodAuth, quality entity.Quality) (string, error)
	Playlist(ctx context.Context, rawURL, tempDir string) (*playlist.Playlist, error)
}

// SegmentDownloader fetches playlist segments to disk.
type SegmentDownloader interface {
	Download(ctx context.Context, segments []playlist.Entry, rep segment.Reporter) error
}

// Encoder concatenates downloaded segments into the output file.
type Encoder interface {
	Mux(ctx context.Context, manifest, output string, plan playlist.CropPlan, rep muxer.Reporter) error
}

// Pipeline executes the stages of a job.
type Pipeline struct {
	log        *slog.Logger
	source     PlaylistSource
	downloader SegmentDownloader
	encoder    Encoder
	bin        muxer.Locator
}

// New returns a Pipeline.
func New(log *slog.Logger, source PlaylistSource, downloader SegmentDownloader, encoder Encoder, bin muxer.Locator) *Pipeline {
	return &Pipeline{
		log:        log.With(slog.String("package", "pipeline")),
		source:     source,
		downloader: downloader,
		encoder:    encoder,
		bin:        bin,
	}
}

// checkpoint reports a canceled job before the named stage starts.
func checkpoint(ctx context.Context, stage string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w before %s: %w", errs.ErrJobCanceled, stage, err)
	}

	return nil
}

// Run executes the job stages in order. Cancellation of ctx is checked between
// stages, a stage already started completes or fails on its own terms.
func (p *Pipeline) Run(ctx context.Context, job *entity.Job) error {
	log := p.log.With(slog.String("job_id", job.ID))
	params := job.Params

	job.SetStage(consts.StageInitializing)
	job.AppendLog("Download task has been started!")
	p.writeInfo(job)

	if err := prepareTempDir(job, params.TempDir); err != nil {
		return err
	}

	if err := checkpoint(ctx, "playlist resolution"); err != nil {
		return err
	}

	job.AppendLog("Retrieving playlist information for all VOD qualities...")

	playlistURL, err := p.source.PlaylistURL(ctx, params.VideoID, params.Auth, params.Quality)
	if err != nil {
		return fmt.Errorf("resolve playlist url: %w", err)
	}

	job.AppendLog("Playlist URL for selected quality " + params.Quality.ID + " is " + playlistURL)

	if err := checkpoint(ctx, "playlist download"); err != nil {
		return err
	}

	job.AppendLog("Retrieving playlist...")

	pl, err := p.source.Playlist(ctx, playlistURL, params.TempDir)
	if err != nil {
		return fmt.Errorf("retrieve playlist: %w", err)
	}

	job.AppendLog(fmt.Sprintf("Playlist has %d segments (%.3fs)", len(pl.Segments()), pl.Duration()))

	if err := checkpoint(ctx, "crop"); err != nil {
		return err
	}

	plan, err := pl.Crop(params.Crop)
	if err != nil {
		return fmt.Errorf("crop playlist: %w", err)
	}

	log.DebugContext(ctx, "playlist cropped", slog.Any("plan", plan), slog.Int("segments", len(pl.Segments())))

	if err := checkpoint(ctx, "segment download"); err != nil {
		return err
	}

	job.SetStage(consts.StageDownloading)

	if err := p.downloader.Download(ctx, pl.Segments(), job); err != nil {
		return fmt.Errorf("download segments: %w", err)
	}

	if err := checkpoint(ctx, "manifest"); err != nil {
		return err
	}

	manifest := filepath.Join(params.TempDir, consts.PartList)

	job.AppendLog("Creating ffmpeg concat list '" + manifest + "'...")

	if err := pl.WriteManifest(manifest); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	if err := checkpoint(ctx, "encoding"); err != nil {
		return err
	}

	job.SetStage(consts.StageProcessing)
	job.SetProgress(0)

	if err := os.MkdirAll(filepath.Dir(params.Output), 0o755); err != nil { //nolint:gosec
		return fmt.Errorf("create output dir: %w", err)
	}

	if err := p.encoder.Mux(ctx, manifest, params.Output, plan, job); err != nil {
		return fmt.Errorf("encode video: %w", err)
	}

	log.InfoContext(ctx, "job pipeline completed", slog.String("output", params.Output))

	return nil
}

// Cleanup removes the job temp directory. Failures are logged and never returned.
func (p *Pipeline) Cleanup(ctx context.Context, job *entity.Job) {
	dir := job.Params.TempDir
	if dir == "" {
		return
	}

	job.AppendLog("Starting temporary download folder cleanup!")

	if err := os.RemoveAll(dir); err != nil {
		p.log.WarnContext(ctx, "temp dir cleanup failed",
			slog.String("job_id", job.ID), slog.String("dir", dir), slog.Any("error", err))
		job.AppendLog("Could not clean up temporary download folder '" + dir + "': " + err.Error())

		return
	}

	job.AppendLog("Temporary download folder '" + dir + "' has been removed")
}

// prepareTempDir creates dir. A non-empty dir is residue of an earlier run and fails the job.
func prepareTempDir(job *entity.Job, dir string) error {
	if dir == "" {
		return fmt.Errorf("%w: temporary download directory not set", errs.ErrValidation)
	}

	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		job.AppendLog("Creating directory '" + dir + "'...")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec
		return fmt.Errorf("create temp dir: %w", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read temp dir: %w", err)
	}

	if len(entries) > 0 {
		return fmt.Errorf("%w: temporary download directory '%s' is not empty", errs.ErrValidation, dir)
	}

	return nil
}

func (p *Pipeline) writeInfo(job *entity.Job) {
	params := job.Params

	section := func(title string) {
		job.AppendLog("")
		job.AppendLog(title)
		job.AppendLog(strings.Repeat("-", 80))
	}

	section("VOD INFO")
	job.AppendLog("VOD ID: " + params.VideoID)
	job.AppendLog("Selected Quality: " + params.Quality.String())
	job.AppendLog("Crop Start: " + cropLabel(params.Crop.CropStart, params.Crop.Start.String()))
	job.AppendLog("Crop End: " + cropLabel(params.Crop.CropEnd, params.Crop.End.String()))

	section("OUTPUT INFO")
	job.AppendLog("Output File: " + params.Output)
	job.AppendLog("FFMPEG Path: " + p.bin.FFmpegPath())
	job.AppendLog("Temporary Download Folder: " + params.TempDir)

	section("ACCESS INFO")
	job.AppendLog("Token: " + params.Auth.Token)
	job.AppendLog("Signature: " + mask(params.Auth.Signature))
	job.AppendLog("Sub-Only: " + yesNo(params.Auth.SubOnly))
	job.AppendLog("Privileged: " + yesNo(params.Auth.Privileged))
	job.AppendLog("")
}

func cropLabel(on bool, at string) string {
	if !on {
		return "No"
	}

	return "Yes (" + at + ")"
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}

	return "No"
}

// mask keeps the first four characters of a secret.
func mask(s string) string {
	const visible = 4
	if len(s) <= visible {
		return strings.Repeat("*", len(s))
	}

	return s[:visible] + strings.Repeat("*", len(s)-visible)
}
