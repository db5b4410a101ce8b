// Package request holds the decoded API request bodies.
package request

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"vodkeep/internal/entity"
	"vodkeep/internal/errs"
)

var videoIDRe = regexp.MustCompile(`^[0-9]+$`)

// Duration decodes a Go duration string such as "1h2m3s" or a number of seconds.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	switch value := v.(type) {
	case float64:
		*d = Duration(value * float64(time.Second))
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("duration %q: %w", value, err)
		}

		*d = Duration(parsed)
	case nil:
		*d = 0
	default:
		return fmt.Errorf("duration: unexpected type %T", v)
	}

	return nil
}

// Enqueue is the body of POST /v1/downloads.
type Enqueue struct {
	// VideoID is the numeric VOD id, a leading "v" is accepted.
	VideoID string `json:"videoId"`
	// Quality is the rendition id, e.g. "chunked" or "720p60".
	Quality        string `json:"quality"`
	QualityDisplay string `json:"qualityDisplay"`
	// Output is the target file, relative paths are resolved against the downloads directory.
	Output    string   `json:"output"`
	CropStart bool     `json:"cropStart"`
	CropEnd   bool     `json:"cropEnd"`
	Start     Duration `json:"start"`
	End       Duration `json:"end"`
	// Token and Signature skip the access token request when both are set.
	Token     string `json:"token"`
	Signature string `json:"signature"`
}

// Validate normalizes the video id and checks the request.
func (e *Enqueue) Validate() error {
	e.VideoID = strings.TrimPrefix(strings.TrimSpace(e.VideoID), "v")
	if !videoIDRe.MatchString(e.VideoID) {
		return errs.ErrInvalidVideoID
	}

	e.Quality = strings.TrimSpace(e.Quality)
	if e.Quality == "" {
		return errs.ErrInvalidQuality
	}

	if e.Start < 0 || e.End < 0 {
		return fmt.Errorf("%w: negative offset", errs.ErrInvalidCrop)
	}

	if e.CropStart && e.CropEnd && e.End <= e.Start {
		return fmt.Errorf("%w: end must be after start", errs.ErrInvalidCrop)
	}

	if e.CropEnd && e.End == 0 {
		return fmt.Errorf("%w: end is required", errs.ErrInvalidCrop)
	}

	if (e.Token == "") != (e.Signature == "") {
		return fmt.Errorf("%w: token and signature must be set together", errs.ErrInvalidRequestBody)
	}

	return nil
}

// Crop returns the requested trim window.
func (e *Enqueue) Crop() entity.CropWindow {
	return entity.CropWindow{
		CropStart: e.CropStart,
		CropEnd:   e.CropEnd,
		Start:     time.Duration(e.Start),
		End:       time.Duration(e.End),
	}
}

// Auth returns the caller supplied credentials, ok is false when none were sent.
func (e *Enqueue) Auth() (entity.VodAuth, bool) {
	if e.Token == "" {
		return entity.VodAuth{}, false
	}

	return entity.VodAuth{Token: e.Token, Signature: e.Signature}, true
}
