// Package etl loads the raw transactions source into the warehouse and checks
// the loaded data before training.
package etl

import (
	"context"
	"io"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/fraud-pipeline/internal/fetcher"
	"github.com/sells-group/fraud-pipeline/internal/model"
	"github.com/sells-group/fraud-pipeline/internal/warehouse"
)

// maxSkipLog caps how many malformed rows are logged individually.
const maxSkipLog = 10

// Loader streams a CSV source into the warehouse raw table.
type Loader struct {
	wh   warehouse.Warehouse
	opts fetcher.Options
}

// NewLoader creates a Loader writing to wh.
func NewLoader(wh warehouse.Warehouse, opts fetcher.Options) *Loader {
	return &Loader{wh: wh, opts: opts}
}

// LoadResult summarises one load.
type LoadResult struct {
	Source   string
	Rows     int64
	Skipped  int64
	Duration time.Duration
}

// Load replaces the raw table with the rows of source and recreates the
// feature view. Rows that cannot be parsed are skipped and counted.
func (l *Loader) Load(ctx context.Context, source string) (*LoadResult, error) {
	start := time.Now()
	log := zap.L().With(zap.String("component", "etl"), zap.String("source", source))

	body, err := fetcher.Open(ctx, source, l.opts)
	if err != nil {
		return nil, eris.Wrap(err, "etl: open source")
	}
	defer body.Close() //nolint:errcheck

	res, err := l.load(ctx, body, log)
	if err != nil {
		return nil, err
	}
	res.Source = source
	res.Duration = time.Since(start)

	log.Info("etl: raw data loaded",
		zap.Int64("rows", res.Rows),
		zap.Int64("skipped", res.Skipped),
		zap.Duration("elapsed", res.Duration),
	)
	return res, nil
}

// LoadReader is Load over an already-open reader.
func (l *Loader) LoadReader(ctx context.Context, r io.Reader) (*LoadResult, error) {
	return l.load(ctx, r, zap.L().With(zap.String("component", "etl")))
}

func (l *Loader) load(ctx context.Context, r io.Reader, log *zap.Logger) (*LoadResult, error) {
	g, gctx := errgroup.WithContext(ctx)
	sctx, cancel := context.WithCancel(gctx)
	defer cancel()

	stream, err := fetcher.StreamCSV(sctx, r, fetcher.CSVOptions{LazyQuotes: true, TrimSpace: true})
	if err != nil {
		return nil, eris.Wrap(err, "etl: read csv")
	}
	idx, err := mapColumns(stream.Header)
	if err != nil {
		cancel()
		drain(stream)
		return nil, err
	}

	records := make(chan model.RawRecord, 1024)
	var skipped, line int64

	g.Go(func() error {
		defer close(records)
		for row := range stream.Rows {
			line++
			rec, err := idx.parseRecord(row)
			if err != nil {
				skipped++
				if skipped <= maxSkipLog {
					log.Warn("etl: skipping malformed row", zap.Int64("line", line+1), zap.Error(err))
				}
				continue
			}
			select {
			case records <- rec:
			case <-gctx.Done():
				drain(stream)
				return gctx.Err()
			}
		}
		if err := <-stream.Err; err != nil {
			return err
		}
		return nil
	})

	var loaded int64
	g.Go(func() error {
		n, err := l.wh.LoadRaw(gctx, records)
		loaded = n
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "etl: load raw")
	}
	return &LoadResult{Rows: loaded, Skipped: skipped}, nil
}

// drain discards remaining rows so the CSV goroutine can exit.
func drain(s *fetcher.CSVStream) {
	for range s.Rows {
	}
}
