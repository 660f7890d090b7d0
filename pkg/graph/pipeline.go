package graph

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

var (
	batchWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "pipeline_batch_write_duration_seconds",
			Help: "Time spent writing one batch to the target graph",
		},
		[]string{"stage", "status"},
	)

	batchesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_batches_written_total",
			Help: "Total number of batches written",
		},
		[]string{"stage", "status"},
	)
)

func init() {
	prometheus.MustRegister(batchWriteDuration)
	prometheus.MustRegister(batchesWrittenTotal)
}

// Chunk splits items into contiguous chunks of at most size elements.
// The final chunk may be shorter. Chunks share the backing array of items.
func Chunk[T any](items []T, size int) [][]T {
	if size < 1 || len(items) == 0 {
		return nil
	}
	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for i := 0; i < len(items); i += size {
		end := i + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[i:end:end])
	}
	return chunks
}

// BatchScheduler drives batched writes one chunk at a time
type BatchScheduler struct {
	batchSize int
	logger    *logrus.Logger
}

// NewBatchScheduler creates a scheduler writing batchSize items per chunk
func NewBatchScheduler(batchSize int, logger *logrus.Logger) (*BatchScheduler, error) {
	if batchSize < 1 {
		return nil, errors.Errorf("batch size must be at least 1, got %d", batchSize)
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return &BatchScheduler{batchSize: batchSize, logger: logger}, nil
}

// BatchSize returns the configured chunk size
func (s *BatchScheduler) BatchSize() int {
	return s.batchSize
}

// Schedule calls write once per chunk of items, in order. The first failing
// chunk aborts the remaining ones; chunks already written stay written.
func Schedule[T any](ctx context.Context, s *BatchScheduler, stage string, items []T, write func(ctx context.Context, batch []T) error) error {
	chunks := Chunk(items, s.batchSize)
	s.logger.WithFields(logrus.Fields{
		"stage":       stage,
		"item_count":  len(items),
		"batch_count": len(chunks),
	}).Info("Starting batched write")

	for i, batch := range chunks {
		if err := ctx.Err(); err != nil {
			return errors.Wrapf(err, "%s: cancelled before batch %d/%d", stage, i+1, len(chunks))
		}

		start := time.Now()
		err := write(ctx, batch)
		elapsed := time.Since(start)

		status := "success"
		if err != nil {
			status = "error"
		}
		batchWriteDuration.WithLabelValues(stage, status).Observe(elapsed.Seconds())
		batchesWrittenTotal.WithLabelValues(stage, status).Inc()

		if err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"stage": stage,
				"batch": i + 1,
				"size":  len(batch),
			}).Error("Batch write failed")
			return errors.Wrapf(err, "%s: batch %d/%d", stage, i+1, len(chunks))
		}

		s.logger.WithFields(logrus.Fields{
			"stage": stage,
			"batch": i + 1,
			"size":  len(batch),
		}).Debug("Batch written")
	}

	return nil
}
