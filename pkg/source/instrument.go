package source

import (
	"context"
	"time"

	"github.com/marmos91/mediabus/internal/logger"
	"github.com/marmos91/mediabus/pkg/metrics"
	"github.com/marmos91/mediabus/pkg/property"
)

// Instrument wraps src so every operation is timed, logged at debug level
// and recorded in m under name. A nil m records nothing.
func Instrument(name string, src Source, m metrics.SourceMetrics) Source {
	if m == nil {
		m = metrics.NewNoopSourceMetrics()
	}
	return &instrumented{name: name, src: src, metrics: m}
}

type instrumented struct {
	name    string
	src     Source
	metrics metrics.SourceMetrics
}

func (s *instrumented) observe(op, id string, start time.Time, err error) {
	d := time.Since(start)
	s.metrics.RecordOperation(s.name, op, d, err)
	if err != nil {
		logger.Debug("Source operation failed",
			logger.KeySource, s.name, logger.KeyMethod, op, logger.KeyID, id,
			logger.KeyDuration, d, logger.KeyError, err)
		return
	}
	logger.Debug("Source operation",
		logger.KeySource, s.name, logger.KeyMethod, op, logger.KeyID, id, logger.KeyDuration, d)
}

func (s *instrumented) Resolve(ctx context.Context, id string, names []property.Name) (*Object, error) {
	start := time.Now()
	obj, err := s.src.Resolve(ctx, id, names)
	s.observe("resolve", id, start, err)
	return obj, err
}

func (s *instrumented) Children(ctx context.Context, id string, filter ChildFilter, offset, maxCount uint32, names []property.Name) ([]*Object, error) {
	start := time.Now()
	objs, err := s.src.Children(ctx, id, filter, offset, maxCount, names)
	s.observe("children", id, start, err)
	return objs, err
}

func (s *instrumented) Search(ctx context.Context, id string, query *Query, offset, maxCount uint32, names []property.Name) ([]*Object, error) {
	start := time.Now()
	objs, err := s.src.Search(ctx, id, query, offset, maxCount, names)
	s.observe("search", id, start, err)
	return objs, err
}

func (s *instrumented) Watch(fn func(id string)) func() {
	return s.src.Watch(fn)
}

func (s *instrumented) Close() error {
	return s.src.Close()
}

// Unwrap returns the wrapped source.
func (s *instrumented) Unwrap() Source { return s.src }
