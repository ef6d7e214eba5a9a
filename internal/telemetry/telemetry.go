// Package telemetry delivers session records and progress updates to the
// local store, a remote progress API or a Redis stream.
package telemetry

import (
	"context"
	"errors"

	"github.com/ayusman/mudra/internal/practice"
	"github.com/ayusman/mudra/internal/session"
)

// Sink accepts both kinds of telemetry.
type Sink interface {
	session.Sink
	practice.ProgressStore
}

// MultiSink fans out to several sinks. Every sink is tried; the errors are
// joined.
type MultiSink []Sink

func (m MultiSink) RecordSession(ctx context.Context, r session.Record) error {
	var errs []error
	for _, s := range m {
		if err := s.RecordSession(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiSink) UpdateProgress(ctx context.Context, u practice.ProgressUpdate) error {
	var errs []error
	for _, s := range m {
		if err := s.UpdateProgress(ctx, u); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ Sink = (*StoreSink)(nil)
	_ Sink = (*HTTPSink)(nil)
	_ Sink = (*RedisSink)(nil)
	_ Sink = MultiSink(nil)
)
