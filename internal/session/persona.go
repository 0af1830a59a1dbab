package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

var ErrPersonaNotFound = errors.New("persona not found")

type Persona struct {
	ID          string `json:"id" yaml:"id" bson:"id"`
	Name        string `json:"name" yaml:"name" bson:"name"`
	Description string `json:"description" yaml:"description" bson:"description"`
	Prompt      string `json:"prompt" yaml:"prompt" bson:"prompt"`
}

type Catalog interface {
	ListPersonas(ctx context.Context) ([]Persona, error)
	GetPersona(ctx context.Context, id string) (Persona, error)
}

type PersonaWriter interface {
	UpsertPersona(ctx context.Context, persona Persona) error
}

// CachedCatalog is a read-through cache over a Catalog. Readers may see a
// list up to ttl old.
type CachedCatalog struct {
	source Catalog
	ttl    time.Duration
	now    func() time.Time

	mu       sync.Mutex
	personas []Persona
	loadedAt time.Time
}

func NewCachedCatalog(source Catalog, ttl time.Duration) *CachedCatalog {
	return &CachedCatalog{
		source: source,
		ttl:    ttl,
		now:    time.Now,
	}
}

func (c *CachedCatalog) ListPersonas(ctx context.Context) ([]Persona, error) {
	c.mu.Lock()
	if c.personas != nil && c.ttl > 0 && c.now().Sub(c.loadedAt) < c.ttl {
		cached := append([]Persona(nil), c.personas...)
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	personas, err := c.source.ListPersonas(ctx)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.personas = append([]Persona{}, personas...)
	c.loadedAt = c.now()
	c.mu.Unlock()
	return personas, nil
}

func (c *CachedCatalog) GetPersona(ctx context.Context, id string) (Persona, error) {
	personas, err := c.ListPersonas(ctx)
	if err != nil {
		return Persona{}, err
	}
	for _, persona := range personas {
		if persona.ID == id {
			return persona, nil
		}
	}
	// The cached list may predate an import; ask the source once.
	return c.source.GetPersona(ctx, id)
}

type personaFile struct {
	Personas []Persona `yaml:"personas"`
}

// LoadPersonasFile reads a YAML persona seed. The file is either a list of
// personas or a mapping with a "personas" key. Records without an id get a
// random UUID; records without a prompt are rejected.
func LoadPersonasFile(path string) ([]Persona, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read personas file: %w", err)
	}
	return ParsePersonas(raw)
}

func ParsePersonas(raw []byte) ([]Persona, error) {
	var personas []Persona
	if err := yaml.Unmarshal(raw, &personas); err != nil {
		var wrapped personaFile
		if wrappedErr := yaml.Unmarshal(raw, &wrapped); wrappedErr != nil {
			return nil, fmt.Errorf("decode personas: %w", err)
		}
		personas = wrapped.Personas
	}

	out := make([]Persona, 0, len(personas))
	for index, persona := range personas {
		persona.ID = strings.TrimSpace(persona.ID)
		persona.Name = strings.TrimSpace(persona.Name)
		persona.Description = strings.TrimSpace(persona.Description)
		persona.Prompt = strings.TrimSpace(persona.Prompt)
		if persona.Prompt == "" {
			return nil, fmt.Errorf("persona %d (%q): prompt is required", index, persona.Name)
		}
		if persona.ID == "" {
			persona.ID = uuid.NewString()
		}
		if persona.Name == "" {
			persona.Name = persona.ID
		}
		out = append(out, persona)
	}
	return out, nil
}
