package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/cervicel-cytology-server/internal/domain"
)

// DefaultMaxConcurrency bounds concurrent classifier calls when no limit is configured.
const DefaultMaxConcurrency = 4

// AggregationResult holds the case totals and the per-image failures.
type AggregationResult struct {
	Counts    domain.CellCounts
	Succeeded int
	Failures  []*domain.ClassificationError
}

// Err joins every per-image failure, or returns nil when all images were classified.
func (r *AggregationResult) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, len(r.Failures))
	for i, f := range r.Failures {
		errs[i] = f
	}
	return errors.Join(errs...)
}

// CountAggregator classifies every image of a case and sums the resulting counts.
type CountAggregator struct {
	classifier     domain.CellClassifier
	logger         *logrus.Logger
	maxConcurrency int
}

// NewCountAggregator creates a new count aggregator
func NewCountAggregator(classifier domain.CellClassifier, logger *logrus.Logger, maxConcurrency int) *CountAggregator {
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}
	return &CountAggregator{
		classifier:     classifier,
		logger:         logger,
		maxConcurrency: maxConcurrency,
	}
}

// Aggregate calls the classifier once per image and sums the counts of every image that
// classified successfully. A failing image never stops the others; its error is recorded
// in the result, as are counts that fail validation. The returned error is non-nil only
// when the context was cancelled before any work started.
func (a *CountAggregator) Aggregate(ctx context.Context, images []domain.Image) (*AggregationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	startTime := time.Now()
	result := &AggregationResult{}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.maxConcurrency)

	for i, image := range images {
		g.Go(func() error {
			counts, err := a.classifyOne(gctx, image)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failures = append(result.Failures, &domain.ClassificationError{
					Index:    i,
					Filename: image.Filename,
					Err:      err,
				})
				return nil
			}
			result.Counts = result.Counts.Add(counts)
			result.Succeeded++
			return nil
		})
	}

	// Goroutines only ever return nil; failures are collected above.
	_ = g.Wait()

	slices.SortFunc(result.Failures, func(x, y *domain.ClassificationError) int {
		return cmp.Compare(x.Index, y.Index)
	})

	a.logger.WithFields(logrus.Fields{
		"images":      len(images),
		"successful":  result.Succeeded,
		"failed":      len(result.Failures),
		"total_cells": result.Counts.Total(),
		"duration_ms": time.Since(startTime).Milliseconds(),
	}).Info("Completed cell count aggregation")

	return result, nil
}

func (a *CountAggregator) classifyOne(ctx context.Context, image domain.Image) (domain.CellCounts, error) {
	if err := ctx.Err(); err != nil {
		return domain.CellCounts{}, err
	}

	counts, err := a.classifier.Classify(ctx, image)
	if err != nil {
		a.logger.WithError(err).WithField("filename", image.Filename).Warn("Image classification failed")
		return domain.CellCounts{}, err
	}
	if err := counts.Validate(); err != nil {
		return domain.CellCounts{}, fmt.Errorf("classifier returned invalid counts: %w", err)
	}
	return counts, nil
}
