package catalog

import (
	"context"
	"sync"
	"time"
)

// Pet is a pet profile owned by the external catalog
type Pet struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Species   string    `json:"species"`
	Breed     string    `json:"breed,omitempty"`
	Bio       string    `json:"bio,omitempty"`
	OwnerID   string    `json:"ownerId,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// Group is a community group owned by the external catalog
type Group struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	MemberCount int       `json:"memberCount"`
	CreatedAt   time.Time `json:"createdAt,omitempty"`
}

// Catalog is the read-only view of the externally owned pet and group store.
// Implementations return snapshots; callers must not mutate them.
type Catalog interface {
	ListPets(ctx context.Context) ([]Pet, error)
	ListGroups(ctx context.Context) ([]Group, error)
	Ping(ctx context.Context) error
}

// Snapshot is the serialized form of the catalog
type Snapshot struct {
	Pets   []Pet   `json:"pets"`
	Groups []Group `json:"groups"`
}

// Memory is an in-process catalog
type Memory struct {
	mu     sync.RWMutex
	pets   []Pet
	groups []Group
}

// NewMemory creates a catalog holding pets and groups
func NewMemory(pets []Pet, groups []Group) *Memory {
	m := &Memory{}
	m.Replace(Snapshot{Pets: pets, Groups: groups})
	return m
}

// Replace swaps the whole snapshot
func (m *Memory) Replace(s Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pets = append([]Pet(nil), s.Pets...)
	m.groups = append([]Group(nil), s.Groups...)
}

func (m *Memory) ListPets(ctx context.Context) ([]Pet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Pet(nil), m.pets...), nil
}

func (m *Memory) ListGroups(ctx context.Context) ([]Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Group(nil), m.groups...), nil
}

func (m *Memory) Ping(ctx context.Context) error {
	return ctx.Err()
}
