package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/sheriff-roster-crawler/internal/booking"
	"github.com/JakeFAU/sheriff-roster-crawler/internal/crawler"
)

// Fanout writes every booking to each of its sinks.
type Fanout struct {
	sinks []crawler.Sink
}

// NewFanout combines sinks. Nil entries are ignored.
func NewFanout(sinks ...crawler.Sink) *Fanout {
	f := &Fanout{}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

// Write forwards b to every sink and joins their errors.
func (f *Fanout) Write(ctx context.Context, b booking.Booking) error {
	var errs []error
	for i, s := range f.sinks {
		if err := s.Write(ctx, b); err != nil {
			errs = append(errs, fmt.Errorf("sink %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink, even after a failure, and collects all artifacts.
func (f *Fanout) Close(ctx context.Context) ([]crawler.Artifact, error) {
	var (
		artifacts []crawler.Artifact
		errs      []error
	)
	for i, s := range f.sinks {
		a, err := s.Close(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("close sink %d: %w", i, err))
		}
		artifacts = append(artifacts, a...)
	}
	return artifacts, errors.Join(errs...)
}
