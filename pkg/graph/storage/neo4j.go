package storage

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v4/neo4j"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/athapong/graph-sync/pkg/graph"
	"github.com/athapong/graph-sync/pkg/graph/metrics"
	"github.com/athapong/graph-sync/pkg/graph/query"
)

const storeName = "neo4j"

// Session is the part of neo4j.Session the writer needs
type Session interface {
	WriteTransaction(work neo4j.TransactionWork, configurers ...func(*neo4j.TransactionConfig)) (interface{}, error)
	ReadTransaction(work neo4j.TransactionWork, configurers ...func(*neo4j.TransactionConfig)) (interface{}, error)
}

// Neo4jStorage owns the driver for the target graph
type Neo4jStorage struct {
	driver   neo4j.Driver
	uri      string
	database string
	logger   *logrus.Logger
}

// NewNeo4jStorage creates a new Neo4j storage instance
func NewNeo4jStorage(uri, username, password, database string, logger *logrus.Logger) (*Neo4jStorage, error) {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	auth := neo4j.BasicAuth(username, password, "")
	driver, err := neo4j.NewDriver(uri, auth)
	if err != nil {
		return nil, graph.NewStoreError(graph.ErrConnectivity, storeName, "create driver", err)
	}

	return &Neo4jStorage{
		driver:   driver,
		uri:      uri,
		database: database,
		logger:   logger,
	}, nil
}

// VerifyConnectivity checks the target store is reachable
func (s *Neo4jStorage) VerifyConnectivity() error {
	if err := s.driver.VerifyConnectivity(); err != nil {
		return graph.NewStoreError(graph.ErrConnectivity, storeName, "verify connectivity", err)
	}
	return nil
}

// WithSession opens a write session, hands it to fn as a SessionWriter and
// closes it on every return path
func (s *Neo4jStorage) WithSession(fn func(w *SessionWriter) error) (err error) {
	session := s.driver.NewSession(neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.database,
	})
	defer func() {
		if cerr := session.Close(); cerr != nil {
			s.logger.WithError(cerr).Warn("Failed to close Neo4j session")
			if err == nil {
				err = classify("close session", cerr)
			}
		}
	}()

	return fn(NewSessionWriter(session, s.logger))
}

// Close releases the driver
func (s *Neo4jStorage) Close() error {
	if s.driver != nil {
		return s.driver.Close()
	}
	return nil
}

// SessionWriter implements graph.GraphWriter over one Neo4j session. Every
// call runs in its own write transaction.
type SessionWriter struct {
	session Session
	logger  *logrus.Logger
}

// NewSessionWriter wraps an open session
func NewSessionWriter(session Session, logger *logrus.Logger) *SessionWriter {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return &SessionWriter{session: session, logger: logger}
}

// ClearAll implements graph.GraphWriter
func (w *SessionWriter) ClearAll(ctx context.Context) error {
	summary, err := w.runWrite(ctx, "clear", query.ClearAll())
	if err != nil {
		return err
	}
	if summary != nil {
		w.logger.WithFields(logrus.Fields{
			"nodes_deleted":         summary.Counters().NodesDeleted(),
			"relationships_deleted": summary.Counters().RelationshipsDeleted(),
		}).Info("Target graph cleared")
	}
	return nil
}

// UpsertNodes implements graph.GraphWriter
func (w *SessionWriter) UpsertNodes(ctx context.Context, label graph.NodeLabel, nodes []graph.Record) error {
	stmt, err := query.MergeNodes(label, query.NodeRows(nodes))
	if err != nil {
		return err
	}
	_, err = w.runWrite(ctx, "merge nodes", stmt)
	return err
}

// UpsertEdges implements graph.GraphWriter
func (w *SessionWriter) UpsertEdges(ctx context.Context, relType graph.RelationshipType, edges []graph.RelationshipEdge) error {
	stmt, err := query.MergeEdges(relType, query.EdgeRows(edges))
	if err != nil {
		return err
	}
	summary, err := w.runWrite(ctx, "merge edges", stmt)
	if err != nil {
		return err
	}
	if summary != nil {
		created := summary.Counters().RelationshipsCreated()
		metrics.RelationshipsCreated.WithLabelValues(string(relType)).Add(float64(created))
		if created < len(edges) {
			w.logger.WithFields(logrus.Fields{
				"type":      relType,
				"submitted": len(edges),
				"created":   created,
			}).Debug("Some edges matched existing relationships or missing endpoints")
		}
	}
	return nil
}

// EnsureConstraints creates the _id uniqueness constraint per label. Failures
// are logged and do not stop the sync.
func (w *SessionWriter) EnsureConstraints(ctx context.Context, labels []graph.NodeLabel) {
	for _, label := range labels {
		stmt, err := query.UniqueConstraint(label)
		if err != nil {
			w.logger.WithError(err).WithField("label", label).Warn("Skipping constraint")
			continue
		}
		if _, err := w.runWrite(ctx, "create constraint", stmt); err != nil {
			w.logger.WithError(err).WithField("label", label).Warn("Neo4j schema init failed (continuing)")
		}
	}
}

// CountNodes implements graph.Counter
func (w *SessionWriter) CountNodes(ctx context.Context, label graph.NodeLabel) (int64, error) {
	stmt, err := query.CountNodes(label)
	if err != nil {
		return 0, err
	}
	return w.runCount(ctx, "count nodes", stmt)
}

// CountEdges implements graph.Counter
func (w *SessionWriter) CountEdges(ctx context.Context, relType graph.RelationshipType) (int64, error) {
	stmt, err := query.CountEdges(relType)
	if err != nil {
		return 0, err
	}
	return w.runCount(ctx, "count edges", stmt)
}

func (w *SessionWriter) runWrite(ctx context.Context, op string, stmt query.Statement) (neo4j.ResultSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, classify(op, err)
	}

	out, err := w.session.WriteTransaction(func(tx neo4j.Transaction) (interface{}, error) {
		res, err := tx.Run(stmt.Text, stmt.Params)
		if err != nil {
			return nil, err
		}
		return res.Consume()
	})
	if err != nil {
		return nil, classify(op, err)
	}

	summary, _ := out.(neo4j.ResultSummary)
	return summary, nil
}

func (w *SessionWriter) runCount(ctx context.Context, op string, stmt query.Statement) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, classify(op, err)
	}

	out, err := w.session.ReadTransaction(func(tx neo4j.Transaction) (interface{}, error) {
		res, err := tx.Run(stmt.Text, stmt.Params)
		if err != nil {
			return nil, err
		}
		record, err := res.Single()
		if err != nil {
			return nil, err
		}
		count, _ := record.Get("count")
		return count, nil
	})
	if err != nil {
		return 0, classify(op, err)
	}

	n, ok := out.(int64)
	if !ok {
		return 0, graph.NewStoreError(graph.ErrQuery, storeName, op, errors.Errorf("unexpected count value %T", out))
	}
	return n, nil
}

func classify(op string, err error) error {
	class := graph.ErrQuery
	if neo4j.IsConnectivityError(err) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		class = graph.ErrConnectivity
	}
	return graph.NewStoreError(class, storeName, op, err)
}
