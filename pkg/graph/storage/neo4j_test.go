package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v4/neo4j"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/athapong/graph-sync/pkg/graph"
)

type fakeSession struct {
	statements []string
	params     []map[string]interface{}
	writes     int
	reads      int
	runErr     error
	count      interface{}
	created    int
}

func (s *fakeSession) WriteTransaction(work neo4j.TransactionWork, _ ...func(*neo4j.TransactionConfig)) (interface{}, error) {
	s.writes++
	return work(&fakeTx{session: s})
}

func (s *fakeSession) ReadTransaction(work neo4j.TransactionWork, _ ...func(*neo4j.TransactionConfig)) (interface{}, error) {
	s.reads++
	return work(&fakeTx{session: s})
}

type fakeTx struct {
	neo4j.Transaction
	session *fakeSession
}

func (tx *fakeTx) Run(cypher string, params map[string]interface{}) (neo4j.Result, error) {
	tx.session.statements = append(tx.session.statements, cypher)
	tx.session.params = append(tx.session.params, params)
	if tx.session.runErr != nil {
		return nil, tx.session.runErr
	}
	return &fakeResult{session: tx.session}, nil
}

type fakeResult struct {
	neo4j.Result
	session *fakeSession
}

func (r *fakeResult) Consume() (neo4j.ResultSummary, error) {
	return &fakeSummary{counters: fakeCounters{created: r.session.created}}, nil
}

func (r *fakeResult) Single() (*neo4j.Record, error) {
	return &neo4j.Record{Keys: []string{"count"}, Values: []interface{}{r.session.count}}, nil
}

type fakeSummary struct {
	neo4j.ResultSummary
	counters fakeCounters
}

func (s *fakeSummary) Counters() neo4j.Counters {
	return s.counters
}

type fakeCounters struct {
	neo4j.Counters
	created int
}

func (c fakeCounters) RelationshipsCreated() int { return c.created }
func (c fakeCounters) NodesDeleted() int         { return 0 }
func (c fakeCounters) RelationshipsDeleted() int { return 0 }

func newTestWriter() (*SessionWriter, *fakeSession) {
	logger, _ := test.NewNullLogger()
	session := &fakeSession{}
	return NewSessionWriter(session, logger), session
}

func TestSessionWriter_ClearAll(t *testing.T) {
	w, session := newTestWriter()

	require.NoError(t, w.ClearAll(context.Background()))
	assert.Equal(t, 1, session.writes)
	assert.Equal(t, []string{"MATCH (n) DETACH DELETE n"}, session.statements)
}

func TestSessionWriter_UpsertNodes(t *testing.T) {
	w, session := newTestWriter()
	nodes := []graph.Record{
		{ID: "s1", Properties: map[string]interface{}{"name": "MRI", "synonyms": []string{"mr"}}},
		{ID: "s2", Properties: map[string]interface{}{"name": "CT"}},
	}

	require.NoError(t, w.UpsertNodes(context.Background(), graph.LabelService, nodes))
	assert.Equal(t, 1, session.writes, "one transaction per batch")
	require.Len(t, session.statements, 1)
	assert.Contains(t, session.statements[0], "MERGE (n:Service {_id: row._id})")

	rows := session.params[0]["rows"].([]map[string]interface{})
	assert.Equal(t, []map[string]interface{}{
		{"_id": "s1", "name": "MRI", "synonyms": []string{"mr"}},
		{"_id": "s2", "name": "CT"},
	}, rows)

	t.Run("unknown label never reaches the session", func(t *testing.T) {
		err := w.UpsertNodes(context.Background(), graph.NodeLabel("Nope"), nodes)
		assert.True(t, errors.Is(err, graph.ErrQuery))
		assert.Equal(t, 1, session.writes)
	})
}

func TestSessionWriter_UpsertEdges(t *testing.T) {
	w, session := newTestWriter()
	session.created = 1
	edges := []graph.RelationshipEdge{
		{SourceID: "c1", TargetID: "s1", Type: graph.RelationContains},
		{SourceID: "c1", TargetID: "gone", Type: graph.RelationContains},
	}

	require.NoError(t, w.UpsertEdges(context.Background(), graph.RelationContains, edges))
	assert.Equal(t, 1, session.writes)
	assert.Contains(t, session.statements[0], "MERGE (a)-[:CONTAINS]->(b)")
	assert.Equal(t, []map[string]interface{}{
		{"sourceId": "c1", "targetId": "s1"},
		{"sourceId": "c1", "targetId": "gone"},
	}, session.params[0]["rows"])
}

func TestSessionWriter_Errors(t *testing.T) {
	t.Run("driver failures are query errors", func(t *testing.T) {
		w, session := newTestWriter()
		session.runErr = errors.New("Neo.ClientError.Statement.SyntaxError")

		err := w.UpsertEdges(context.Background(), graph.RelationRelatedTo, []graph.RelationshipEdge{{SourceID: "a", TargetID: "b"}})
		require.Error(t, err)
		assert.True(t, errors.Is(err, graph.ErrQuery))
		assert.False(t, errors.Is(err, graph.ErrConnectivity))

		var storeErr *graph.StoreError
		require.True(t, errors.As(err, &storeErr))
		assert.Equal(t, "neo4j", storeErr.Store)
		assert.Equal(t, "merge edges", storeErr.Op)
	})

	t.Run("expired context is a connectivity error and skips the transaction", func(t *testing.T) {
		w, session := newTestWriter()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := w.ClearAll(ctx)
		assert.True(t, errors.Is(err, graph.ErrConnectivity))
		assert.True(t, errors.Is(err, context.Canceled))
		assert.Zero(t, session.writes)
	})
}

func TestSessionWriter_Counts(t *testing.T) {
	w, session := newTestWriter()
	session.count = int64(7)

	n, err := w.CountNodes(context.Background(), graph.LabelMedicalGroup)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)

	n, err = w.CountEdges(context.Background(), graph.RelationContains)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.Equal(t, 2, session.reads)
	assert.Zero(t, session.writes)

	session.count = "seven"
	_, err = w.CountNodes(context.Background(), graph.LabelService)
	assert.True(t, errors.Is(err, graph.ErrQuery))
}

func TestSessionWriter_EnsureConstraints(t *testing.T) {
	w, session := newTestWriter()
	session.runErr = errors.New("unsupported")

	// failures are logged, not returned
	w.EnsureConstraints(context.Background(), []graph.NodeLabel{graph.LabelService, graph.LabelMedicalCondition})
	assert.Equal(t, 2, session.writes)
	assert.Contains(t, session.statements[1], "FOR (n:MedicalCondition) REQUIRE n._id IS UNIQUE")
}

func TestSessionWriter_ImplementsGraphInterfaces(t *testing.T) {
	var _ graph.GraphWriter = (*SessionWriter)(nil)
	var _ graph.Counter = (*SessionWriter)(nil)
	var _ graph.SchemaInitializer = (*SessionWriter)(nil)
	var _ Session = neo4j.Session(nil)
}
