package source

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/athapong/graph-sync/pkg/graph"
)

const mongoStore = "mongo"

// MongoSource reads projected documents from a MongoDB database
type MongoSource struct {
	client *mongo.Client
	db     *mongo.Database
	logger *logrus.Logger
}

// Connect dials uri, verifies the primary answers a ping and returns a
// source bound to database. Callers must Close it.
func Connect(ctx context.Context, uri, database string, logger *logrus.Logger) (*MongoSource, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, graph.NewStoreError(graph.ErrConnectivity, mongoStore, "connect", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, graph.NewStoreError(graph.ErrConnectivity, mongoStore, "ping", err)
	}

	s := NewMongoSource(client.Database(database), logger)
	s.client = client
	return s, nil
}

// NewMongoSource wraps an existing database handle
func NewMongoSource(db *mongo.Database, logger *logrus.Logger) *MongoSource {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return &MongoSource{db: db, logger: logger}
}

// Extract implements graph.Source. The whole collection is read.
func (s *MongoSource) Extract(ctx context.Context, collection string, fields []string) ([]graph.RawRecord, error) {
	opts := options.Find().SetProjection(Projection(fields))
	cursor, err := s.db.Collection(collection).Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, classifyMongo("find "+collection, err)
	}
	defer cursor.Close(ctx)

	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, classifyMongo("read "+collection, err)
	}

	records := make([]graph.RawRecord, 0, len(docs))
	for _, doc := range docs {
		records = append(records, graph.RawRecord(doc))
	}

	s.logger.WithFields(logrus.Fields{
		"collection": collection,
		"records":    len(records),
	}).Info("Extracted collection")
	return records, nil
}

// Close disconnects the client opened by Connect
func (s *MongoSource) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return errors.Wrap(s.client.Disconnect(ctx), "disconnect mongo")
}

// Projection builds an inclusion projection for fields; _id is always included
func Projection(fields []string) bson.D {
	projection := bson.D{{Key: graph.IDProperty, Value: 1}}
	for _, field := range fields {
		if field == graph.IDProperty {
			continue
		}
		projection = append(projection, bson.E{Key: field, Value: 1})
	}
	return projection
}

func classifyMongo(op string, err error) error {
	class := graph.ErrQuery
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, mongo.ErrClientDisconnected) {
		class = graph.ErrConnectivity
	}
	return graph.NewStoreError(class, mongoStore, op, err)
}
