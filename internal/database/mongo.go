package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/ZanzyTHEbar/eco-classifier/internal/domain"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

const (
	eventsCollection = "events"
	modelsCollection = "models"
)

// MongoStore is the primary event store. Grouping is pushed down to the
// server with $dateTrunc so only one row per (bucket, category) is returned.
type MongoStore struct {
	client *mongo.Client
	events *mongo.Collection
	models *mongo.Collection
}

var _ domain.Store = (*MongoStore)(nil)

// NewMongoConnection connects to MongoDB and verifies the primary is reachable
func NewMongoConnection(ctx context.Context, uri string) (*mongo.Client, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetBSONOptions(&options.BSONOptions{DefaultDocumentM: true})

	client, err := mongo.Connect(clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return client, nil
}

// NewMongoStore opens the collections and ensures their indexes exist
func NewMongoStore(ctx context.Context, client *mongo.Client, database string) (*MongoStore, error) {
	db := client.Database(database)
	store := &MongoStore{
		client: client,
		events: db.Collection(eventsCollection),
		models: db.Collection(modelsCollection),
	}

	indexCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	eventIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "timestamp", Value: -1}}},
		{Keys: bson.D{{Key: "category", Value: 1}}},
		{Keys: bson.D{{Key: "category", Value: 1}, {Key: "timestamp", Value: -1}}},
	}
	if _, err := store.events.Indexes().CreateMany(indexCtx, eventIndexes); err != nil {
		return nil, fmt.Errorf("failed to create event indexes: %w", err)
	}

	modelIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "name", Value: 1}, {Key: "version", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "deployed", Value: 1}}},
	}
	if _, err := store.models.Indexes().CreateMany(indexCtx, modelIndexes); err != nil {
		return nil, fmt.Errorf("failed to create model indexes: %w", err)
	}

	slog.Info("MongoDB store initialized", "database", database)
	return store, nil
}

// Insert appends an event, filling defaults first
func (m *MongoStore) Insert(ctx context.Context, event *domain.Event) error {
	event.ApplyDefaults()
	if _, err := m.events.InsertOne(ctx, event); err != nil {
		return domain.NewQueryError("insert event", err)
	}
	return nil
}

// List returns one page of events, newest first, and the total match count
func (m *MongoStore) List(ctx context.Context, opts domain.ListOptions) ([]domain.Event, int64, error) {
	query := listDocument(opts)

	total, err := m.events.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, domain.NewQueryError("count events", err)
	}

	findOpts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetSkip(int64(opts.Skip())).
		SetLimit(int64(opts.Limit))

	cursor, err := m.events.Find(ctx, query, findOpts)
	if err != nil {
		return nil, 0, domain.NewQueryError("list events", err)
	}
	defer cursor.Close(ctx)

	events := make([]domain.Event, 0, opts.Limit)
	if err := cursor.All(ctx, &events); err != nil {
		return nil, 0, domain.NewQueryError("list events", err)
	}

	return events, total, nil
}

// Each streams every event newest first. An error from fn stops iteration
// and is returned unchanged.
func (m *MongoStore) Each(ctx context.Context, fn func(domain.Event) error) error {
	findOpts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}})

	cursor, err := m.events.Find(ctx, bson.M{}, findOpts)
	if err != nil {
		return domain.NewQueryError("export events", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var e domain.Event
		if err := cursor.Decode(&e); err != nil {
			return domain.NewQueryError("export events", err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	if err := cursor.Err(); err != nil {
		return domain.NewQueryError("export events", err)
	}

	return nil
}

// Points returns the timestamp and category of every matching event
func (m *MongoStore) Points(ctx context.Context, filter domain.Filter) ([]domain.Point, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	findOpts := options.Find().SetProjection(bson.M{"_id": 0, "timestamp": 1, "category": 1})

	cursor, err := m.events.Find(ctx, filterDocument(filter), findOpts)
	if err != nil {
		return nil, domain.NewQueryError("points", err)
	}
	defer cursor.Close(ctx)

	points := make([]domain.Point, 0)
	if err := cursor.All(ctx, &points); err != nil {
		return nil, domain.NewQueryError("points", err)
	}
	return points, nil
}

// GroupedCounts counts matching events per (bucket, category) server-side
func (m *MongoStore) GroupedCounts(ctx context.Context, filter domain.Filter, g domain.Granularity, loc *time.Location) ([]domain.GroupedCount, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	cursor, err := m.events.Aggregate(ctx, groupedCountsPipeline(filter, g, loc))
	if err != nil {
		return nil, domain.NewQueryError("grouped counts", err)
	}
	defer cursor.Close(ctx)

	counts := make([]domain.GroupedCount, 0)
	if err := cursor.All(ctx, &counts); err != nil {
		return nil, domain.NewQueryError("grouped counts", err)
	}
	return counts, nil
}

// SaveModel registers a model. A deployed model replaces any previously deployed one.
func (m *MongoStore) SaveModel(ctx context.Context, model *domain.Model) error {
	model.Prepare()

	if _, err := m.models.InsertOne(ctx, model); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("model %s@%s: %w", model.Name, model.Version, domain.ErrDuplicate)
		}
		return domain.NewQueryError("save model", err)
	}

	if model.Deployed {
		_, err := m.models.UpdateMany(ctx,
			bson.M{"_id": bson.M{"$ne": model.ID}, "deployed": true},
			bson.M{"$set": bson.M{"deployed": false, "updatedAt": model.UpdatedAt}},
		)
		if err != nil {
			return domain.NewQueryError("save model", err)
		}
	}

	return nil
}

// ListModels returns every registered model, most recently uploaded first
func (m *MongoStore) ListModels(ctx context.Context) ([]domain.Model, error) {
	cursor, err := m.models.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "uploadedAt", Value: -1}}))
	if err != nil {
		return nil, domain.NewQueryError("list models", err)
	}
	defer cursor.Close(ctx)

	models := make([]domain.Model, 0)
	if err := cursor.All(ctx, &models); err != nil {
		return nil, domain.NewQueryError("list models", err)
	}
	return models, nil
}

// DeployedModel returns the currently deployed model or domain.ErrNotFound
func (m *MongoStore) DeployedModel(ctx context.Context) (*domain.Model, error) {
	findOpts := options.FindOne().SetSort(bson.D{{Key: "updatedAt", Value: -1}})

	var model domain.Model
	err := m.models.FindOne(ctx, bson.M{"deployed": true}, findOpts).Decode(&model)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, domain.NewQueryError("deployed model", err)
	}
	return &model, nil
}

// Ping checks the primary is reachable
func (m *MongoStore) Ping(ctx context.Context) error {
	if err := m.client.Ping(ctx, readpref.Primary()); err != nil {
		return domain.NewQueryError("ping", err)
	}
	return nil
}

// Close disconnects the client
func (m *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

func filterDocument(f domain.Filter) bson.M {
	match := bson.M{}

	if f.Start != nil || f.End != nil {
		ts := bson.M{}
		if f.Start != nil {
			ts["$gte"] = f.Start.UTC()
		}
		if f.End != nil {
			ts["$lte"] = f.End.UTC()
		}
		match["timestamp"] = ts
	}
	if len(f.Categories) > 0 {
		match["category"] = bson.M{"$in": f.Categories}
	}
	if f.DeviceID != "" {
		match["deviceId"] = f.DeviceID
	}

	return match
}

func listDocument(opts domain.ListOptions) bson.M {
	query := bson.M{}
	if opts.Category != "" {
		query["category"] = opts.Category
	}
	if opts.Search != "" {
		query["filename"] = bson.M{"$regex": regexp.QuoteMeta(opts.Search), "$options": "i"}
	}
	return query
}

func groupedCountsPipeline(f domain.Filter, g domain.Granularity, loc *time.Location) []bson.M {
	timezone := "UTC"
	if loc != nil {
		timezone = loc.String()
	}

	return []bson.M{
		{"$match": filterDocument(f)},
		{"$addFields": bson.M{
			"truncatedDate": bson.M{
				"$dateTrunc": bson.M{
					"date":     "$timestamp",
					"unit":     string(g),
					"timezone": timezone,
				},
			},
		}},
		{"$group": bson.M{
			"_id": bson.M{
				"truncatedDate": "$truncatedDate",
				"category":      "$category",
			},
			"count": bson.M{"$sum": 1},
		}},
		{"$project": bson.M{
			"_id":           0,
			"truncatedDate": "$_id.truncatedDate",
			"category":      "$_id.category",
			"count":         1,
		}},
		{"$sort": bson.D{{Key: "truncatedDate", Value: 1}, {Key: "category", Value: 1}}},
	}
}
