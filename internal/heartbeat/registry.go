package heartbeat

import (
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	StateStarting = "starting"
	StateHealthy  = "healthy"
	StateDegraded = "degraded"
	StateDisabled = "disabled"
	StateStopped  = "stopped"
	StateStale    = "stale"

	// OverallIdle is reported when every component is disabled or stopped.
	OverallIdle    = "idle"
	OverallUnknown = "unknown"
)

const (
	ComponentTelegram = "connector:telegram"
	ComponentHTTP     = "http"
	ComponentStore    = "store"
)

type Reporter interface {
	Starting(component, message string)
	Beat(component, message string)
	Degrade(component, message string, err error)
	Disabled(component, message string)
	Stopped(component, message string)
}

type ComponentStatus struct {
	Name           string `json:"name"`
	State          string `json:"state"`
	Message        string `json:"message,omitempty"`
	Error          string `json:"error,omitempty"`
	LastBeatAtUnix int64  `json:"last_beat_at_unix,omitempty"`
	UpdatedAtUnix  int64  `json:"updated_at_unix"`
	Stale          bool   `json:"stale,omitempty"`
}

type Snapshot struct {
	GeneratedAtUnix int64             `json:"generated_at_unix"`
	Overall         string            `json:"overall"`
	Components      []ComponentStatus `json:"components"`
}

type record struct {
	state      string
	message    string
	lastError  string
	lastBeatAt time.Time
	updatedAt  time.Time
}

// Registry holds the last reported state of each runtime component.
type Registry struct {
	mu         sync.RWMutex
	now        func() time.Time
	components map[string]record
}

func NewRegistry() *Registry {
	return &Registry{
		now:        func() time.Time { return time.Now().UTC() },
		components: map[string]record{},
	}
}

func (r *Registry) Starting(component, message string) {
	r.set(component, StateStarting, message, nil)
}

func (r *Registry) Beat(component, message string) {
	r.set(component, StateHealthy, message, nil)
}

func (r *Registry) Degrade(component, message string, err error) {
	r.set(component, StateDegraded, message, err)
}

func (r *Registry) Disabled(component, message string) {
	r.set(component, StateDisabled, message, nil)
}

func (r *Registry) Stopped(component, message string) {
	r.set(component, StateStopped, message, nil)
}

func (r *Registry) set(component, state, message string, err error) {
	name := strings.ToLower(strings.TrimSpace(component))
	if name == "" {
		return
	}
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	item := r.components[name]
	item.state = state
	item.message = strings.TrimSpace(message)
	item.lastError = ""
	if err != nil {
		item.lastError = strings.TrimSpace(err.Error())
	}
	item.updatedAt = now
	if state == StateHealthy || item.lastBeatAt.IsZero() {
		item.lastBeatAt = now
	}
	r.components[name] = item
}

// Snapshot reports every component. A healthy or starting component whose
// last beat is older than staleAfter is reported stale; zero disables that.
func (r *Registry) Snapshot(staleAfter time.Duration) Snapshot {
	now := r.now()
	r.mu.RLock()
	defer r.mu.RUnlock()

	results := make([]ComponentStatus, 0, len(r.components))
	for name, item := range r.components {
		status := ComponentStatus{
			Name:           name,
			State:          item.state,
			Message:        item.message,
			Error:          item.lastError,
			LastBeatAtUnix: item.lastBeatAt.Unix(),
			UpdatedAtUnix:  item.updatedAt.Unix(),
		}
		active := item.state == StateHealthy || item.state == StateStarting
		if staleAfter > 0 && active && now.Sub(item.lastBeatAt) > staleAfter {
			status.State = StateStale
			status.Stale = true
		}
		results = append(results, status)
	}
	sort.Slice(results, func(left, right int) bool {
		return results[left].Name < results[right].Name
	})
	return Snapshot{
		GeneratedAtUnix: now.Unix(),
		Overall:         overall(results),
		Components:      results,
	}
}

func IsDegradedState(state string) bool {
	return state == StateDegraded || state == StateStale
}

func overall(items []ComponentStatus) string {
	if len(items) == 0 {
		return OverallUnknown
	}
	starting := false
	healthy := false
	for _, item := range items {
		switch item.State {
		case StateDegraded, StateStale:
			return StateDegraded
		case StateStarting:
			starting = true
		case StateHealthy:
			healthy = true
		}
	}
	switch {
	case starting:
		return StateStarting
	case healthy:
		return StateHealthy
	default:
		return OverallIdle
	}
}
