// Package entity defines the core entities used in the application.
package entity

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

// JobStatus represents the status of a download job.
type JobStatus string

const (
	// JobStatusQueued indicates that the job waits for the active slot.
	JobStatusQueued JobStatus = "queued"
	// JobStatusActive indicates that the job owns the active slot and its pipeline runs.
	JobStatusActive JobStatus = "active"
	// JobStatusFinished indicates that the job has finished successfully.
	JobStatusFinished JobStatus = "finished"
	// JobStatusError indicates that the job has encountered an error.
	JobStatusError JobStatus = "error"
	// JobStatusCanceled indicates that the job was canceled by the user.
	JobStatusCanceled JobStatus = "canceled"
)

// Terminal reports whether the status ends a run.
func (s JobStatus) Terminal() bool {
	return s == JobStatusFinished || s == JobStatusError || s == JobStatusCanceled
}

// Quality describes one selectable stream rendition.
type Quality struct {
	// ID is matched case-insensitively against candidate playlist URLs, e.g. "chunked" or "720p60".
	ID      string `json:"id"`
	Display string `json:"display,omitempty"`
}

func (q Quality) String() string {
	if q.Display != "" {
		return q.Display
	}

	return q.ID
}

// CropWindow is the requested trim window of a VOD.
type CropWindow struct {
	CropStart bool          `json:"cropStart"`
	CropEnd   bool          `json:"cropEnd"`
	Start     time.Duration `json:"start"`
	// End must be meaningful whenever CropStart is set, callers pass the VOD length when CropEnd is false.
	End time.Duration `json:"end"`
}

// LogValue implements the slog.LogValuer interface for structured logging.
func (c CropWindow) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Bool("cropStart", c.CropStart),
		slog.Bool("cropEnd", c.CropEnd),
		slog.Duration("start", c.Start),
		slog.Duration("end", c.End),
	)
}

// VodAuth holds the access credentials issued for a VOD.
type VodAuth struct {
	Token      string `json:"token"`
	Signature  string `json:"signature"`
	Privileged bool   `json:"privileged"`
	SubOnly    bool   `json:"subOnly"`
}

// Params is the immutable input of a download job.
type Params struct {
	VideoID string     `json:"videoId"`
	Quality Quality    `json:"quality"`
	Output  string     `json:"output"`
	TempDir string     `json:"tempDir"`
	Crop    CropWindow `json:"crop"`
	Auth    VodAuth    `json:"-"`
}

// Job represents a download job and its mutable run state.
type Job struct {
	ID        string
	Params    Params
	CreatedAt time.Time

	mu        sync.RWMutex
	status    JobStatus
	stage     string
	progress  int
	encoding  bool
	log       strings.Builder
	updatedAt time.Time
}

// NewJob returns a queued job.
func NewJob(id string, params Params, stage string) *Job {
	now := time.Now()

	return &Job{
		ID:        id,
		Params:    params,
		CreatedAt: now,
		status:    JobStatusQueued,
		stage:     stage,
		updatedAt: now,
	}
}

// Status returns the current status.
func (j *Job) Status() JobStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return j.status
}

// SetStatus sets the status.
func (j *Job) SetStatus(status JobStatus) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.status = status
	j.updatedAt = time.Now()
}

// SetStage sets the human readable stage shown next to the status.
func (j *Job) SetStage(stage string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.stage = stage
	j.updatedAt = time.Now()
}

// Progress returns the progress percentage.
func (j *Job) Progress() int {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return j.progress
}

// SetProgress sets the progress percentage clamped to 0..100.
func (j *Job) SetProgress(percent int) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.progress = max(0, min(percent, 100))
	j.updatedAt = time.Now()
}

// Encoding reports whether the encoder progress is indeterminate.
func (j *Job) Encoding() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return j.encoding
}

// SetEncoding sets the indeterminate encoder progress flag.
func (j *Job) SetEncoding(encoding bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.encoding = encoding
}

// AppendLog appends a line to the job log.
func (j *Job) AppendLog(line string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.log.WriteString(line)

	if !strings.HasSuffix(line, "\n") {
		j.log.WriteByte('\n')
	}
}

// Log returns the job log.
func (j *Job) Log() string {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return j.log.String()
}

// Reset puts the job back into the queued state with an empty log.
func (j *Job) Reset(stage string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.log.Reset()
	j.progress = 0
	j.encoding = false
	j.stage = stage
	j.status = JobStatusQueued
	j.updatedAt = time.Now()
}

// View is an immutable snapshot of a job.
type View struct {
	ID        string     `json:"id"`
	VideoID   string     `json:"videoId"`
	Quality   Quality    `json:"quality"`
	Output    string     `json:"output"`
	Crop      CropWindow `json:"crop"`
	Status    JobStatus  `json:"status"`
	Stage     string     `json:"stage"`
	Progress  int        `json:"progress"`
	Encoding  bool       `json:"encoding"`
	Log       string     `json:"log,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// View returns a snapshot of the job. The log is included only when withLog is set.
func (j *Job) View(withLog bool) View {
	j.mu.RLock()
	defer j.mu.RUnlock()

	v := View{
		ID:        j.ID,
		VideoID:   j.Params.VideoID,
		Quality:   j.Params.Quality,
		Output:    j.Params.Output,
		Crop:      j.Params.Crop,
		Status:    j.status,
		Stage:     j.stage,
		Progress:  j.progress,
		Encoding:  j.encoding,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.updatedAt,
	}

	if withLog {
		v.Log = j.log.String()
	}

	return v
}

// LogValue implements the slog.LogValuer interface for structured logging.
func (j *Job) LogValue() slog.Value {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return slog.GroupValue(
		slog.String("id", j.ID),
		slog.String("videoId", j.Params.VideoID),
		slog.String("quality", j.Params.Quality.ID),
		slog.String("output", j.Params.Output),
		slog.String("status", string(j.status)),
		slog.Int("progress", j.progress),
	)
}
