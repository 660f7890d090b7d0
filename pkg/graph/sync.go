package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/athapong/graph-sync/pkg/graph/metrics"
)

// State is a step of a sync run. Runs only move forward.
type State int

const (
	StatePending State = iota
	StateCleared
	StateNodesWritten
	StateEdgesWritten
	StateDone
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateCleared:
		return "cleared"
	case StateNodesWritten:
		return "nodes_written"
	case StateEdgesWritten:
		return "edges_written"
	case StateDone:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Report summarizes one sync run
type Report struct {
	RunID       string                     `json:"run_id"`
	State       State                      `json:"-"`
	StartedAt   time.Time                  `json:"started_at"`
	Duration    time.Duration              `json:"duration"`
	Nodes       map[NodeLabel]int          `json:"nodes"`
	Edges       map[RelationshipType]int   `json:"edges"`
	Skipped     map[NodeLabel]int          `json:"skipped,omitempty"`
	DroppedRefs map[NodeLabel]int          `json:"dropped_refs,omitempty"`
	Verified    bool                       `json:"verified"`
	NodeCounts  map[NodeLabel]int64        `json:"node_counts,omitempty"`
	EdgeCounts  map[RelationshipType]int64 `json:"edge_counts,omitempty"`
}

// SyncOption configures a Syncer
type SyncOption func(*Syncer)

// WithKinds replaces the default kinds
func WithKinds(kinds ...Kind) SyncOption {
	return func(s *Syncer) { s.kinds = kinds }
}

// WithRules replaces the default relationship rules
func WithRules(rules ...RelationshipRule) SyncOption {
	return func(s *Syncer) { s.rules = rules }
}

// WithBatchSize sets the number of items written per transaction
func WithBatchSize(size int) SyncOption {
	return func(s *Syncer) { s.batchSize = size }
}

// WithLogger sets the logger used by the syncer and its helpers
func WithLogger(logger *logrus.Logger) SyncOption {
	return func(s *Syncer) { s.logger = logger }
}

// WithConstraints creates the _id uniqueness constraints right after the
// clear, if the writer supports it
func WithConstraints(enabled bool) SyncOption {
	return func(s *Syncer) { s.constraints = enabled }
}

// WithVerification counts the target graph after writing, if the writer supports it
func WithVerification(enabled bool) SyncOption {
	return func(s *Syncer) { s.verify = enabled }
}

// Syncer rebuilds the target graph from the source collections:
// clear, write every node label, then write every relationship type.
type Syncer struct {
	source      Source
	writer      GraphWriter
	kinds       []Kind
	rules       []RelationshipRule
	batchSize   int
	verify      bool
	constraints bool
	state       State
	logger      *logrus.Logger
	normalizer  *Normalizer
	scheduler   *BatchScheduler
}

// NewSyncer validates the configuration and returns a ready Syncer
func NewSyncer(source Source, writer GraphWriter, opts ...SyncOption) (*Syncer, error) {
	if source == nil {
		return nil, errors.New("source required")
	}
	if writer == nil {
		return nil, errors.New("graph writer required")
	}

	s := &Syncer{
		source:    source,
		writer:    writer,
		kinds:     DefaultKinds(),
		rules:     DefaultRules(),
		batchSize: DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logrus.New()
		s.logger.SetFormatter(&logrus.JSONFormatter{})
	}

	byLabel := make(map[NodeLabel]Kind, len(s.kinds))
	for _, kind := range s.kinds {
		if err := kind.Validate(); err != nil {
			return nil, err
		}
		if _, dup := byLabel[kind.Label]; dup {
			return nil, errors.Errorf("kind %s configured twice", kind.Label)
		}
		byLabel[kind.Label] = kind
	}
	for _, rule := range s.rules {
		if err := rule.Validate(byLabel); err != nil {
			return nil, err
		}
	}

	scheduler, err := NewBatchScheduler(s.batchSize, s.logger)
	if err != nil {
		return nil, err
	}
	s.scheduler = scheduler
	s.normalizer = NewNormalizer(s.logger)
	return s, nil
}

// State returns the step the last run reached
func (s *Syncer) State() State {
	return s.state
}

func (s *Syncer) advance(to State) error {
	if to != s.state+1 {
		return errors.Errorf("invalid sync transition %s -> %s", s.state, to)
	}
	s.state = to
	return nil
}

// Run performs one full rebuild. It stops at the first store error; batches
// committed before the failure are left in place.
func (s *Syncer) Run(ctx context.Context) (*Report, error) {
	s.state = StatePending
	report := &Report{
		RunID:       uuid.New().String(),
		StartedAt:   time.Now(),
		Nodes:       make(map[NodeLabel]int),
		Edges:       make(map[RelationshipType]int),
		Skipped:     make(map[NodeLabel]int),
		DroppedRefs: make(map[NodeLabel]int),
	}
	log := s.logger.WithField("run_id", report.RunID)
	defer func() {
		report.State = s.state
		report.Duration = time.Since(report.StartedAt)
	}()

	log.WithField("batch_size", s.scheduler.BatchSize()).Info("Clearing target graph")
	if err := s.writer.ClearAll(ctx); err != nil {
		return report, errors.Wrap(err, "clear target graph")
	}
	if err := s.advance(StateCleared); err != nil {
		return report, err
	}
	if s.constraints {
		s.ensureConstraints(ctx, report)
	}

	normalized := make(map[NodeLabel][]Record, len(s.kinds))
	for _, kind := range s.kinds {
		records, err := s.writeKind(ctx, kind, report)
		if err != nil {
			return report, err
		}
		normalized[kind.Label] = records
	}
	if err := s.advance(StateNodesWritten); err != nil {
		return report, err
	}

	for _, rule := range s.rules {
		if err := s.writeRule(ctx, rule, normalized[rule.Source], report); err != nil {
			return report, err
		}
	}
	if err := s.advance(StateEdgesWritten); err != nil {
		return report, err
	}

	if s.verify {
		if err := s.verifyCounts(ctx, report); err != nil {
			return report, err
		}
	}
	if err := s.advance(StateDone); err != nil {
		return report, err
	}

	log.WithFields(logrus.Fields{
		"nodes":    report.Nodes,
		"edges":    report.Edges,
		"duration": time.Since(report.StartedAt).String(),
	}).Info("Sync completed")
	return report, nil
}

func (s *Syncer) writeKind(ctx context.Context, kind Kind, report *Report) ([]Record, error) {
	raws, err := s.source.Extract(ctx, kind.Collection, kind.Projection())
	if err != nil {
		return nil, errors.Wrapf(err, "extract %s", kind.Collection)
	}
	metrics.RecordsExtracted.WithLabelValues(string(kind.Label)).Add(float64(len(raws)))

	records, stats := s.normalizer.NormalizeAll(kind, raws)
	report.Skipped[kind.Label] += stats.Skipped
	report.DroppedRefs[kind.Label] += stats.DroppedRefs
	metrics.RecordsSkipped.WithLabelValues(string(kind.Label)).Add(float64(stats.Skipped))
	metrics.ReferencesDropped.WithLabelValues(string(kind.Label)).Add(float64(stats.DroppedRefs))

	err = Schedule(ctx, s.scheduler, "nodes:"+string(kind.Label), records,
		func(ctx context.Context, batch []Record) error {
			if err := s.writer.UpsertNodes(ctx, kind.Label, batch); err != nil {
				return err
			}
			report.Nodes[kind.Label] += len(batch)
			metrics.NodesWritten.WithLabelValues(string(kind.Label)).Add(float64(len(batch)))
			return nil
		})
	if err != nil {
		return nil, errors.Wrapf(err, "write %s nodes", kind.Label)
	}
	return records, nil
}

func (s *Syncer) writeRule(ctx context.Context, rule RelationshipRule, records []Record, report *Report) error {
	edges := ExtractRelationships(records, rule.Field, rule.Type)
	stage := fmt.Sprintf("edges:%s.%s:%s", rule.Source, rule.Field, rule.Type)

	err := Schedule(ctx, s.scheduler, stage, edges,
		func(ctx context.Context, batch []RelationshipEdge) error {
			if err := s.writer.UpsertEdges(ctx, rule.Type, batch); err != nil {
				return err
			}
			report.Edges[rule.Type] += len(batch)
			metrics.EdgesSubmitted.WithLabelValues(string(rule.Type)).Add(float64(len(batch)))
			return nil
		})
	if err != nil {
		return errors.Wrapf(err, "write %s edges from %s.%s", rule.Type, rule.Source, rule.Field)
	}
	return nil
}

func (s *Syncer) ensureConstraints(ctx context.Context, report *Report) {
	initializer, ok := s.writer.(SchemaInitializer)
	if !ok {
		s.logger.WithField("run_id", report.RunID).Warn("Graph writer cannot create constraints, skipping")
		return
	}
	labels := make([]NodeLabel, 0, len(s.kinds))
	for _, kind := range s.kinds {
		labels = append(labels, kind.Label)
	}
	initializer.EnsureConstraints(ctx, labels)
}

func (s *Syncer) verifyCounts(ctx context.Context, report *Report) error {
	counter, ok := s.writer.(Counter)
	if !ok {
		s.logger.WithField("run_id", report.RunID).Warn("Graph writer cannot count, skipping verification")
		return nil
	}

	report.NodeCounts = make(map[NodeLabel]int64, len(s.kinds))
	for _, kind := range s.kinds {
		n, err := counter.CountNodes(ctx, kind.Label)
		if err != nil {
			return errors.Wrapf(err, "count %s nodes", kind.Label)
		}
		report.NodeCounts[kind.Label] = n
		metrics.GraphNodeCount.WithLabelValues(string(kind.Label)).Set(float64(n))
	}

	report.EdgeCounts = make(map[RelationshipType]int64)
	for _, rule := range s.rules {
		if _, seen := report.EdgeCounts[rule.Type]; seen {
			continue
		}
		n, err := counter.CountEdges(ctx, rule.Type)
		if err != nil {
			return errors.Wrapf(err, "count %s edges", rule.Type)
		}
		report.EdgeCounts[rule.Type] = n
		metrics.GraphEdgeCount.WithLabelValues(string(rule.Type)).Set(float64(n))
	}

	report.Verified = true
	return nil
}
