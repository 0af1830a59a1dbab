package mongostore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/dwizi/mind-bridge/internal/session"
)

const (
	DefaultDatabase    = "bot"
	sessionsCollection = "users"
	personasCollection = "personas"
)

// sessionDocument is one session blob, keyed by chat id.
type sessionDocument struct {
	Key   string        `bson:"key"`
	Value session.State `bson:"value"`
}

type Store struct {
	client   *mongo.Client
	sessions *mongo.Collection
	personas *mongo.Collection
}

func Connect(ctx context.Context, uri, database string) (*Store, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return nil, fmt.Errorf("mongo url is required")
	}
	database = strings.TrimSpace(database)
	if database == "" {
		database = DefaultDatabase
	}
	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	db := client.Database(database)
	return &Store{
		client:   client,
		sessions: db.Collection(sessionsCollection),
		personas: db.Collection(personasCollection),
	}, nil
}

// AutoMigrate creates the lookup indexes.
func (s *Store) AutoMigrate(ctx context.Context) error {
	if _, err := s.sessions.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "key", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return fmt.Errorf("create session index: %w", err)
	}
	if _, err := s.personas.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return fmt.Errorf("create persona index: %w", err)
	}
	return nil
}

func (s *Store) LoadSession(ctx context.Context, key string) (session.State, error) {
	raw, err := s.sessions.FindOne(ctx, sessionFilter(key)).Raw()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return session.Default(), nil
	}
	if err != nil {
		return session.State{}, fmt.Errorf("lookup session: %w", err)
	}
	return decodeSession(raw)
}

func (s *Store) SaveSession(ctx context.Context, key string, state session.State) error {
	_, err := s.sessions.UpdateOne(ctx, sessionFilter(key), sessionUpdate(state), options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

func (s *Store) ListPersonas(ctx context.Context) ([]session.Persona, error) {
	cursor, err := s.personas.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list personas: %w", err)
	}
	personas := []session.Persona{}
	if err := cursor.All(ctx, &personas); err != nil {
		return nil, fmt.Errorf("decode personas: %w", err)
	}
	return personas, nil
}

func (s *Store) GetPersona(ctx context.Context, id string) (session.Persona, error) {
	var persona session.Persona
	err := s.personas.FindOne(ctx, bson.M{"id": strings.TrimSpace(id)}).Decode(&persona)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return session.Persona{}, session.ErrPersonaNotFound
	}
	if err != nil {
		return session.Persona{}, fmt.Errorf("lookup persona: %w", err)
	}
	return persona, nil
}

func (s *Store) UpsertPersona(ctx context.Context, persona session.Persona) error {
	persona, err := preparePersona(persona)
	if err != nil {
		return err
	}
	_, err = s.personas.UpdateOne(
		ctx,
		bson.M{"id": persona.ID},
		bson.M{"$set": persona},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("upsert persona: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func sessionFilter(key string) bson.M {
	return bson.M{"key": strings.TrimSpace(key)}
}

func sessionUpdate(state session.State) bson.M {
	state.Normalize()
	return bson.M{"$set": bson.M{"value": state}}
}

// decodeSession reads a session document. Fields missing from the stored
// value keep their defaults.
func decodeSession(raw bson.Raw) (session.State, error) {
	doc := sessionDocument{Value: session.Default()}
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return session.State{}, fmt.Errorf("decode session: %w", err)
	}
	doc.Value.Normalize()
	return doc.Value, nil
}

func preparePersona(persona session.Persona) (session.Persona, error) {
	persona.ID = strings.TrimSpace(persona.ID)
	persona.Name = strings.TrimSpace(persona.Name)
	persona.Description = strings.TrimSpace(persona.Description)
	persona.Prompt = strings.TrimSpace(persona.Prompt)
	if persona.Prompt == "" {
		return session.Persona{}, fmt.Errorf("persona %s: prompt is required", persona.ID)
	}
	if persona.ID == "" {
		persona.ID = uuid.NewString()
	}
	if persona.Name == "" {
		persona.Name = persona.ID
	}
	return persona, nil
}
