package archive

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"github.com/ajitpratap0/stratalloc/pkg/allocation"
	"github.com/ajitpratap0/stratalloc/pkg/walkforward"
)

func day(d int) time.Time {
	return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC)
}

func testSummary() *walkforward.Summary {
	table := allocation.NewTable()
	table.Add(day(9), "A", 3)
	table.Add(day(9), "B", 0)
	table.SortByDate()

	return &walkforward.Summary{
		Table:      table,
		Strategies: []string{"A", "B"},
		Windows: []walkforward.WindowResult{{
			Window:             walkforward.Window{Start: day(1), End: day(8)},
			Effective:          day(9),
			Allocation:         []float64{3, 0},
			Fitness:            math.Inf(1),
			OutOfSampleFitness: 0.25,
			Seed:               42,
		}},
		Duration: 1500 * time.Millisecond,
	}
}

func toBSON(t *testing.T, doc RunDocument) bson.D {
	t.Helper()
	raw, err := bson.Marshal(doc)
	require.NoError(t, err)
	var d bson.D
	require.NoError(t, bson.Unmarshal(raw, &d))
	return d
}

func TestNewRunDocument(t *testing.T) {
	runID := uuid.New()
	doc := NewRunDocument(runID, Meta{Algorithm: "dynamic", Metric: "sharpe"}, day(10), testSummary())

	assert.Equal(t, runID.String(), doc.RunID)
	assert.Equal(t, int64(1500), doc.DurationMs)
	assert.Equal(t, map[string]float64{"A": 3, "B": 0}, doc.Latest)
	assert.Equal(t, day(9), doc.EffectiveDate)
	require.Len(t, doc.Windows, 1)
	assert.Nil(t, doc.Windows[0].Fitness)
	require.NotNil(t, doc.Windows[0].OutOfSampleFitness)
	assert.Equal(t, 0.25, *doc.Windows[0].OutOfSampleFitness)
}

func TestStore(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("save", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 1},
			bson.E{Key: "nModified", Value: 0},
		))
		store := NewStore(mt.Coll)
		doc := NewRunDocument(uuid.New(), Meta{Algorithm: "random"}, day(10), testSummary())
		require.NoError(mt, store.Save(context.Background(), doc))

		started := mt.GetStartedEvent()
		require.NotNil(mt, started)
		assert.Equal(mt, "update", started.CommandName)
	})

	mt.Run("save error", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{
			Index:   0,
			Code:    11000,
			Message: "duplicate key",
		}))
		store := NewStore(mt.Coll)
		err := store.Save(context.Background(), RunDocument{RunID: "x"})
		assert.Error(mt, err)
	})

	mt.Run("get", func(mt *mtest.T) {
		runID := uuid.New()
		want := NewRunDocument(runID, Meta{Algorithm: "gradient", Metric: "sortino"}, day(10), testSummary())
		ns := mt.Coll.Database().Name() + "." + mt.Coll.Name()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, toBSON(mt.T, want)))

		store := NewStore(mt.Coll)
		got, err := store.Get(context.Background(), runID)
		require.NoError(mt, err)
		assert.Equal(mt, want.RunID, got.RunID)
		assert.Equal(mt, "gradient", got.Meta.Algorithm)
		assert.Equal(mt, want.Latest, got.Latest)
		require.Len(mt, got.Windows, 1)
		assert.True(mt, want.Windows[0].Effective.Equal(got.Windows[0].Effective))
	})

	mt.Run("get missing", func(mt *mtest.T) {
		ns := mt.Coll.Database().Name() + "." + mt.Coll.Name()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch))

		store := NewStore(mt.Coll)
		_, err := store.Get(context.Background(), uuid.New())
		assert.ErrorIs(mt, err, ErrNotFound)
	})

	mt.Run("recent", func(mt *mtest.T) {
		ns := mt.Coll.Database().Name() + "." + mt.Coll.Name()
		first := NewRunDocument(uuid.New(), Meta{}, day(12), testSummary())
		second := NewRunDocument(uuid.New(), Meta{}, day(11), testSummary())
		mt.AddMockResponses(
			mtest.CreateCursorResponse(1, ns, mtest.FirstBatch, toBSON(mt.T, first)),
			mtest.CreateCursorResponse(0, ns, mtest.NextBatch, toBSON(mt.T, second)),
		)

		store := NewStore(mt.Coll)
		docs, err := store.Recent(context.Background(), 2)
		require.NoError(mt, err)
		require.Len(mt, docs, 2)
		assert.Equal(mt, first.RunID, docs[0].RunID)
		assert.Equal(mt, second.RunID, docs[1].RunID)
	})
}

func TestConnect_EmptyURI(t *testing.T) {
	_, err := Connect(context.Background(), "", "db", "runs")
	assert.Error(t, err)
}
