// Package archive keeps a document per optimization run in MongoDB so past
// schedules and their window diagnostics can be inspected after the
// allocation file has been overwritten.
package archive

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ajitpratap0/stratalloc/pkg/walkforward"
)

// ErrNotFound is returned when no run document matches.
var ErrNotFound = errors.New("run not found in archive")

// Meta describes how a run was configured.
type Meta struct {
	Algorithm     string `bson:"algorithm" json:"algorithm"`
	Metric        string `bson:"metric" json:"metric"`
	InSampleDays  int    `bson:"in_sample_days" json:"in_sample_days"`
	OutSampleDays int    `bson:"out_sample_days" json:"out_sample_days"`
	ContractsMin  int    `bson:"contracts_min" json:"contracts_min"`
	ContractsMax  int    `bson:"contracts_max" json:"contracts_max"`
	Realtime      bool   `bson:"realtime" json:"realtime"`
}

// WindowDocument is one window of a run. Non-finite fitness is stored as null.
type WindowDocument struct {
	Start              time.Time `bson:"start" json:"start"`
	End                time.Time `bson:"end" json:"end"`
	Effective          time.Time `bson:"effective" json:"effective"`
	Allocation         []float64 `bson:"allocation" json:"allocation"`
	Fitness            *float64  `bson:"fitness" json:"fitness"`
	OutOfSampleFitness *float64  `bson:"out_of_sample_fitness" json:"out_of_sample_fitness"`
	Clusters           int       `bson:"clusters" json:"clusters"`
	Cached             bool      `bson:"cached" json:"cached"`
	Seed               int64     `bson:"seed" json:"seed"`
}

// RunDocument is the archived form of a run
type RunDocument struct {
	RunID         string             `bson:"_id" json:"run_id"`
	Meta          Meta               `bson:"meta" json:"meta"`
	Strategies    []string           `bson:"strategies" json:"strategies"`
	Windows       []WindowDocument   `bson:"windows" json:"windows"`
	Latest        map[string]float64 `bson:"latest" json:"latest"`
	EffectiveDate time.Time          `bson:"effective_date" json:"effective_date"`
	StartedAt     time.Time          `bson:"started_at" json:"started_at"`
	DurationMs    int64              `bson:"duration_ms" json:"duration_ms"`
}

// NewRunDocument converts a finished walk-forward summary.
func NewRunDocument(runID uuid.UUID, meta Meta, startedAt time.Time, summary *walkforward.Summary) RunDocument {
	doc := RunDocument{
		RunID:      runID.String(),
		Meta:       meta,
		Strategies: summary.Strategies,
		Windows:    make([]WindowDocument, 0, len(summary.Windows)),
		StartedAt:  startedAt.UTC(),
		DurationMs: summary.Duration.Milliseconds(),
	}
	for _, w := range summary.Windows {
		doc.Windows = append(doc.Windows, WindowDocument{
			Start:              w.Window.Start,
			End:                w.Window.End,
			Effective:          w.Effective,
			Allocation:         w.Allocation,
			Fitness:            finite(w.Fitness),
			OutOfSampleFitness: finite(w.OutOfSampleFitness),
			Clusters:           w.Clusters,
			Cached:             w.Cached,
			Seed:               w.Seed,
		})
	}
	if summary.Table != nil {
		doc.Latest = summary.Table.Latest()
		doc.EffectiveDate = summary.Table.LatestDate()
	}
	return doc
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// Store reads and writes run documents
type Store struct {
	coll *mongo.Collection
}

// NewStore wraps an existing collection
func NewStore(coll *mongo.Collection) *Store {
	return &Store{coll: coll}
}

// Connect opens a client, verifies it with a ping and returns a store over
// database.collection. Close releases the client.
func Connect(ctx context.Context, uri, database, collection string) (*Store, error) {
	if uri == "" {
		return nil, fmt.Errorf("archive URI is not set")
	}

	serverAPI := options.ServerAPI(options.ServerAPIVersion1)
	clientOptions := options.Client().
		ApplyURI(uri).
		SetServerAPIOptions(serverAPI)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("couldn't connect to archive: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("couldn't ping archive: %w", err)
	}

	log.Info().
		Str("database", database).
		Str("collection", collection).
		Msg("Connected to run archive")

	return NewStore(client.Database(database).Collection(collection)), nil
}

// Close disconnects the underlying client
func (s *Store) Close(ctx context.Context) error {
	return s.coll.Database().Client().Disconnect(ctx)
}

// Save upserts doc by run id
func (s *Store) Save(ctx context.Context, doc RunDocument) error {
	_, err := s.coll.ReplaceOne(ctx,
		bson.D{{Key: "_id", Value: doc.RunID}},
		doc,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to archive run %s: %w", doc.RunID, err)
	}

	log.Debug().
		Str("run_id", doc.RunID).
		Int("windows", len(doc.Windows)).
		Msg("Run archived")
	return nil
}

// Get loads the document for runID
func (s *Store) Get(ctx context.Context, runID uuid.UUID) (*RunDocument, error) {
	var doc RunDocument
	err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: runID.String()}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
		}
		return nil, fmt.Errorf("failed to load archived run: %w", err)
	}
	return &doc, nil
}

// Recent returns up to limit documents, newest first
func (s *Store) Recent(ctx context.Context, limit int64) ([]RunDocument, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "started_at", Value: -1}}).
		SetLimit(limit)

	cursor, err := s.coll.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query archived runs: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []RunDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode archived runs: %w", err)
	}
	return docs, nil
}
