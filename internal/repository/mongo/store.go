// Package mongo stores session metadata and message logs as one document per
// session. Messages are appended with $push so ordering is insertion order.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Rrens/agent-bridge/internal/config"
	"github.com/Rrens/agent-bridge/internal/domain"
	"github.com/Rrens/agent-bridge/internal/repository"
	"github.com/jonboulle/clockwork"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const sessionsCollection = "sessions"

type messageDoc struct {
	ID        string    `bson:"id"`
	Role      string    `bson:"role"`
	Content   string    `bson:"content"`
	Timestamp time.Time `bson:"timestamp"`
}

type sessionDoc struct {
	ID         string       `bson:"_id"`
	Title      string       `bson:"title"`
	WorkDir    string       `bson:"work_dir"`
	RecordPath string       `bson:"record_path"`
	CreatedAt  time.Time    `bson:"created_at"`
	UpdatedAt  time.Time    `bson:"updated_at"`
	Messages   []messageDoc `bson:"messages"`
}

func (d sessionDoc) toDomain() *domain.Session {
	return &domain.Session{
		ID:         d.ID,
		Title:      d.Title,
		WorkDir:    d.WorkDir,
		RecordPath: d.RecordPath,
		CreatedAt:  d.CreatedAt.UTC(),
		UpdatedAt:  d.UpdatedAt.UTC(),
	}
}

// Store implements domain.SessionStore on MongoDB
type Store struct {
	*repository.Layout

	client *mongo.Client
	coll   *mongo.Collection
	clock  clockwork.Clock
}

// Connect dials MongoDB and ensures the session indexes exist
func Connect(ctx context.Context, cfg config.MongoConfig, layout *repository.Layout, clock clockwork.Clock) (*Store, error) {
	clientOpts := options.Client().ApplyURI(cfg.URI)
	if cfg.ConnectTimeout > 0 {
		clientOpts.SetConnectTimeout(cfg.ConnectTimeout)
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping: %w", err)
	}

	coll := client.Database(cfg.Database).Collection(sessionsCollection)
	_, err = coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "updated_at", Value: -1}}},
		{Keys: bson.D{{Key: "work_dir", Value: 1}}, Options: options.Index().SetUnique(true)},
	})
	if err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}

	return &Store{Layout: layout, client: client, coll: coll, clock: clock}, nil
}

var metadataProjection = bson.D{{Key: "messages", Value: 0}}

func (s *Store) List(ctx context.Context) ([]domain.Session, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "updated_at", Value: -1}}).
		SetProjection(metadataProjection)

	cur, err := s.coll.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer cur.Close(ctx)

	sessions := []domain.Session{}
	for cur.Next(ctx) {
		var doc sessionDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode session: %w", err)
		}
		sessions = append(sessions, *doc.toDomain())
	}
	return sessions, cur.Err()
}

func (s *Store) Get(ctx context.Context, id string) (*domain.Session, error) {
	var doc sessionDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": id}, options.FindOne().SetProjection(metadataProjection)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return doc.toDomain(), nil
}

func (s *Store) Create(ctx context.Context, id, workDir, title string) (*domain.Session, error) {
	if err := s.CreateWorkDir(workDir); err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC().Truncate(time.Millisecond)
	doc := sessionDoc{
		ID:        id,
		Title:     title,
		WorkDir:   workDir,
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  []messageDoc{},
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		s.Fs().RemoveAll(s.WorkDirPath(workDir))
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return doc.toDomain(), nil
}

func (s *Store) Update(ctx context.Context, id string, upd domain.SessionUpdate) (*domain.Session, error) {
	set := bson.M{"updated_at": s.clock.Now().UTC()}
	if upd.Title != nil {
		set["title"] = *upd.Title
	}
	if upd.RecordPath != nil {
		set["record_path"] = *upd.RecordPath
	}

	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetProjection(metadataProjection)

	var doc sessionDoc
	err := s.coll.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update session: %w", err)
	}
	return doc.toDomain(), nil
}

func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	var doc sessionDoc
	err := s.coll.FindOneAndDelete(ctx, bson.M{"_id": id},
		options.FindOneAndDelete().SetProjection(metadataProjection)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to delete session: %w", err)
	}
	if err := s.RemoveSessionData(doc.ID, doc.WorkDir); err != nil {
		return true, err
	}
	return true, nil
}

func (s *Store) Messages(ctx context.Context, id string) ([]domain.StoredMessage, error) {
	var doc sessionDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": id},
		options.FindOne().SetProjection(bson.D{{Key: "messages", Value: 1}})).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return []domain.StoredMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}

	msgs := make([]domain.StoredMessage, 0, len(doc.Messages))
	for _, m := range doc.Messages {
		msgs = append(msgs, domain.StoredMessage{
			ID:        m.ID,
			Role:      domain.Role(m.Role),
			Content:   m.Content,
			Timestamp: m.Timestamp.UTC(),
		})
	}
	return msgs, nil
}

func (s *Store) AppendMessage(ctx context.Context, id string, msg domain.StoredMessage) (bool, error) {
	update := bson.M{
		"$push": bson.M{"messages": messageDoc{
			ID:        msg.ID,
			Role:      string(msg.Role),
			Content:   msg.Content,
			Timestamp: msg.Timestamp,
		}},
		"$set": bson.M{"updated_at": s.clock.Now().UTC()},
	}
	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return false, fmt.Errorf("failed to append message: %w", err)
	}
	return res.MatchedCount > 0, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *Store) Close() error {
	return s.client.Disconnect(context.Background())
}
