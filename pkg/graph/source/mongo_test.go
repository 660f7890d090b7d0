package source

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/athapong/graph-sync/pkg/graph"
)

// unreachableURI points at a closed port with short timeouts
const unreachableURI = "mongodb://127.0.0.1:1/?serverSelectionTimeoutMS=300&connectTimeoutMS=300"

func TestProjection(t *testing.T) {
	assert.Equal(t, bson.D{
		{Key: "_id", Value: 1},
		{Key: "name", Value: 1},
		{Key: "services.stage1", Value: 1},
	}, Projection([]string{"_id", "name", "services.stage1"}))

	assert.Equal(t, bson.D{{Key: "_id", Value: 1}}, Projection(nil))
}

func TestProjection_DefaultKinds(t *testing.T) {
	for _, kind := range graph.DefaultKinds() {
		projection := Projection(kind.Projection())
		assert.Len(t, projection, len(kind.Projection()), kind.Collection)
		assert.Equal(t, "_id", projection[0].Key)
	}
}

func TestMongoSource_Extract(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("projected documents are returned", func(mt *mtest.T) {
		logger, _ := test.NewNullLogger()
		s1, s2 := primitive.NewObjectID(), primitive.NewObjectID()
		ns := mt.DB.Name() + ".services"
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch,
			bson.D{{Key: "_id", Value: s1}, {Key: "name", Value: "MRI"}, {Key: "relatedServices", Value: bson.A{s2}}},
			bson.D{{Key: "_id", Value: s2}, {Key: "name", Value: "CT"}},
		))

		records, err := NewMongoSource(mt.DB, logger).Extract(context.Background(), "services", graph.ServiceKind.Projection())
		require.NoError(mt, err)
		require.Len(mt, records, 2)
		assert.Equal(mt, s1, records[0]["_id"])
		assert.Equal(mt, "MRI", records[0]["name"])
		assert.Equal(mt, s2, records[1]["_id"])

		started := mt.GetStartedEvent()
		require.NotNil(mt, started)
		assert.Equal(mt, "find", started.CommandName)
		elems, err := started.Command.Lookup("projection").Document().Elements()
		require.NoError(mt, err)
		keys := make([]string, 0, len(elems))
		for _, e := range elems {
			keys = append(keys, e.Key())
		}
		assert.Equal(mt, []string{"_id", "name", "synonyms", "relatedServices"}, keys)
	})

	mt.Run("command errors are query errors", func(mt *mtest.T) {
		logger, _ := test.NewNullLogger()
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code:    2,
			Name:    "BadValue",
			Message: "bad projection",
		}))

		_, err := NewMongoSource(mt.DB, logger).Extract(context.Background(), "services", nil)
		require.Error(mt, err)
		assert.True(mt, errors.Is(err, graph.ErrQuery))
		assert.False(mt, errors.Is(err, graph.ErrConnectivity))

		var cmdErr mongo.CommandError
		require.True(mt, errors.As(err, &cmdErr))
		assert.Equal(mt, int32(2), cmdErr.Code)
	})
}

func TestMongoSource_Unreachable(t *testing.T) {
	logger, _ := test.NewNullLogger()
	ctx := context.Background()

	t.Run("extract times out selecting a server", func(t *testing.T) {
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(unreachableURI))
		require.NoError(t, err)
		defer client.Disconnect(ctx)

		_, err = NewMongoSource(client.Database("sansa"), logger).Extract(ctx, "services", nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, graph.ErrConnectivity))
		assert.False(t, errors.Is(err, graph.ErrQuery))
	})

	t.Run("connect fails its ping", func(t *testing.T) {
		connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		src, err := Connect(connectCtx, unreachableURI, "sansa", logger)
		require.Error(t, err)
		assert.Nil(t, src)
		assert.True(t, errors.Is(err, graph.ErrConnectivity))
	})
}

func TestClassifyMongo(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		class error
	}{
		{"deadline", context.DeadlineExceeded, graph.ErrConnectivity},
		{"disconnected client", mongo.ErrClientDisconnected, graph.ErrConnectivity},
		{"network labelled command error", mongo.CommandError{Code: 6, Labels: []string{"NetworkError"}}, graph.ErrConnectivity},
		{"server command error", mongo.CommandError{Code: 2, Name: "BadValue"}, graph.ErrQuery},
		{"anything else", errors.New("cursor id mismatch"), graph.ErrQuery},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyMongo("find services", tt.err)
			assert.True(t, errors.Is(err, tt.class))

			var storeErr *graph.StoreError
			require.True(t, errors.As(err, &storeErr))
			assert.Equal(t, "mongo", storeErr.Store)
		})
	}
}
