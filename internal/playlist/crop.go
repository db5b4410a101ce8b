package playlist

import (
	"fmt"
	"log/slog"

	"vodkeep/internal/entity"
	"vodkeep/internal/errs"
	"vodkeep/pkg/maths"
)

// CropPlan holds the encoder seek and duration values derived from a CropWindow.
type CropPlan struct {
	CropStart bool
	CropEnd   bool
	// Start is the seek offset into the first retained segment, in seconds.
	Start float64
	// Length is the duration to keep in seconds: End-Start when CropStart is set, End otherwise.
	Length float64
	// Expected is the output duration used to turn encoder timestamps into a percentage.
	Expected float64
}

// LogValue implements the slog.LogValuer interface for structured logging.
func (c CropPlan) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Bool("cropStart", c.CropStart),
		slog.Bool("cropEnd", c.CropEnd),
		slog.Float64("start", c.Start),
		slog.Float64("length", c.Length),
		slog.Float64("expected", c.Expected),
	)
}

func validateWindow(w entity.CropWindow) error {
	if w.Start < 0 || w.End < 0 {
		return fmt.Errorf("%w: negative crop time", errs.ErrValidation)
	}

	if w.CropStart && w.CropEnd && w.End <= w.Start {
		return fmt.Errorf("%w: crop end %s is not after crop start %s", errs.ErrValidation, w.End, w.Start)
	}

	return nil
}

// Crop removes the segments outside the window together with the directives
// orphaned between the old and new edge segments, and returns the plan for the encoder.
func (p *Playlist) Crop(w entity.CropWindow) (CropPlan, error) {
	if err := validateWindow(w); err != nil {
		return CropPlan{}, err
	}

	segments := p.Segments()
	if len(segments) == 0 {
		return CropPlan{}, fmt.Errorf("%w: playlist has no segments", errs.ErrValidation)
	}

	startMS := float64(w.Start.Milliseconds())
	endMS := float64(w.End.Milliseconds())

	lengthMS := endMS
	if w.CropStart {
		lengthMS -= startMS
	}

	start := maths.Seconds(startMS)
	end := maths.Seconds(endMS)
	length := maths.Seconds(lengthMS)

	firstIndex := segments[0].Index
	lastIndex := segments[len(segments)-1].Index

	drop := make(map[int]bool)

	if w.CropStart {
		var sum float64

		for _, s := range segments {
			if sum+s.Duration < start {
				sum += s.Duration
				drop[s.Index] = true

				continue
			}

			start = maths.Round(start-sum, 3)

			break
		}
	}

	if w.CropEnd {
		var sum float64

		for _, s := range segments {
			if sum >= end {
				drop[s.Index] = true
			}

			sum += s.Duration
		}
	}

	kept := make([]Entry, 0, len(p.Entries))

	for _, e := range p.Entries {
		if e.Kind == KindSegment && drop[e.Index] {
			continue
		}

		kept = append(kept, e)
	}

	keptFirst, keptLast, ok := segmentBounds(kept)
	if !ok {
		return CropPlan{}, fmt.Errorf("%w: crop window excludes every segment", errs.ErrValidation)
	}

	p.Entries = kept[:0]

	for _, e := range kept {
		if e.Kind == KindDirective &&
			((e.Index > firstIndex && e.Index < keptFirst) || (e.Index > keptLast && e.Index < lastIndex)) {
			continue
		}

		p.Entries = append(p.Entries, e)
	}

	plan := CropPlan{
		CropStart: w.CropStart,
		CropEnd:   w.CropEnd,
		Length:    length,
	}

	if w.CropStart {
		plan.Start = start
	}

	if w.CropEnd {
		plan.Expected = length
	} else {
		plan.Expected = maths.Round(p.Duration()-plan.Start, 3)
	}

	return plan, nil
}

func segmentBounds(entries []Entry) (first, last int, ok bool) {
	for _, e := range entries {
		if e.Kind != KindSegment {
			continue
		}

		if !ok {
			first = e.Index
			ok = true
		}

		last = e.Index
	}

	return first, last, ok
}
