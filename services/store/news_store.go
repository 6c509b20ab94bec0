package store

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"marketdata_hub/models"
)

// MongoDB database and collection names
const (
	MongoDBName         = "marketdata_hub"
	MongoNewsCollection = "news_articles"
)

// NewsArticle is the news document shape in MongoDB.
type NewsArticle struct {
	URL         string    `bson:"_id"`
	Symbol      string    `bson:"symbol"`
	Title       string    `bson:"title"`
	Summary     string    `bson:"summary,omitempty"`
	Source      string    `bson:"source,omitempty"`
	PublishedAt string    `bson:"published_at"`
	Sentiment   string    `bson:"sentiment,omitempty"`
	DataSource  string    `bson:"data_source"`
	UpdatedAt   time.Time `bson:"updated_at"`
}

// NewsStore persists news articles in MongoDB, deduplicated by URL.
// Articles are document-shaped and short-lived, which suits a document
// store better than relational rows.
type NewsStore struct {
	mu          sync.RWMutex
	client      *mongo.Client
	database    *mongo.Database
	isConnected bool
}

// NewNewsStore connects to MongoDB. An empty URI disables news storage
// without failing startup.
func NewNewsStore(uri string) (*NewsStore, error) {
	s := &NewsStore{}
	if uri == "" {
		log.Println("MONGODB_URI not set, news storage disabled")
		return s, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(10).
		SetMinPoolSize(2).
		SetMaxConnIdleTime(30 * time.Second).
		SetConnectTimeout(30 * time.Second).
		SetRetryWrites(true).
		SetRetryReads(true)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return s, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return s, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	s.mu.Lock()
	s.client = client
	s.database = client.Database(MongoDBName)
	s.isConnected = true
	s.mu.Unlock()

	s.createIndexes()
	return s, nil
}

func (s *NewsStore) createIndexes() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	coll := s.database.Collection(MongoNewsCollection)
	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "symbol", Value: 1}, {Key: "published_at", Value: -1}},
	})
	if err != nil {
		log.Printf("Failed to create news index: %v", err)
	}
}

// Connected reports whether the store has a live MongoDB connection.
func (s *NewsStore) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isConnected
}

// UpsertNews writes merged news records, one document per article URL.
// Articles without a URL are skipped.
func (s *NewsStore) UpsertNews(ctx context.Context, rec *models.MergedRecord) error {
	if !s.Connected() {
		return nil
	}
	coll := s.database.Collection(MongoNewsCollection)

	var operations []mongo.WriteModel
	for _, r := range rec.Records {
		url := r.StringField("url")
		if url == "" {
			continue
		}
		doc := NewsArticle{
			URL:         url,
			Symbol:      rec.Symbol,
			Title:       r.StringField("title"),
			Summary:     r.StringField("summary"),
			Source:      r.StringField("source"),
			PublishedAt: r.StringField("published_at"),
			Sentiment:   r.StringField("sentiment"),
			DataSource:  rec.Provider(),
			UpdatedAt:   time.Now(),
		}
		operations = append(operations, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": url}).
			SetReplacement(doc).
			SetUpsert(true))
	}
	if len(operations) == 0 {
		return nil
	}

	_, err := coll.BulkWrite(ctx, operations, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return fmt.Errorf("failed to upsert news for %s: %w", rec.Symbol, err)
	}
	return nil
}

// RecentNews returns stored articles for a symbol, newest first.
func (s *NewsStore) RecentNews(ctx context.Context, symbol string, limit int64) ([]NewsArticle, error) {
	if !s.Connected() {
		return nil, nil
	}
	coll := s.database.Collection(MongoNewsCollection)

	opts := options.Find().
		SetSort(bson.D{{Key: "published_at", Value: -1}}).
		SetLimit(limit)
	cursor, err := coll.Find(ctx, bson.M{"symbol": symbol}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query news for %s: %w", symbol, err)
	}
	defer cursor.Close(ctx)

	var articles []NewsArticle
	if err := cursor.All(ctx, &articles); err != nil {
		return nil, fmt.Errorf("failed to decode news for %s: %w", symbol, err)
	}
	return articles, nil
}

// DeleteOlderThan removes articles last updated before the cutoff.
func (s *NewsStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	if !s.Connected() {
		return 0, nil
	}
	coll := s.database.Collection(MongoNewsCollection)
	res, err := coll.DeleteMany(ctx, bson.M{"updated_at": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, fmt.Errorf("failed to delete old news: %w", err)
	}
	return res.DeletedCount, nil
}

// Close disconnects from MongoDB.
func (s *NewsStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.isConnected = false
	return s.client.Disconnect(ctx)
}
