package schema

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/FACorreiaa/familyfinance/internal/domain/import/parser"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore keeps schemas in insertion order.
type memStore struct {
	mu      sync.Mutex
	schemas []ParserSchema
	clock   time.Time
}

func newMemStore() *memStore {
	return &memStore{clock: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (m *memStore) tick() time.Time {
	m.clock = m.clock.Add(time.Minute)
	return m.clock
}

func (m *memStore) index(id uuid.UUID) int {
	for i := range m.schemas {
		if m.schemas[i].ID == id {
			return i
		}
	}
	return -1
}

func (m *memStore) ActiveSchemas(context.Context) ([]parser.Schema, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []parser.Schema
	for _, s := range m.schemas {
		if s.IsActive {
			out = append(out, s.ToParser())
		}
	}
	return out, nil
}

func (m *memStore) List(_ context.Context, activeOnly bool) ([]ParserSchema, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ParserSchema
	for _, s := range m.schemas {
		if !activeOnly || s.IsActive {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) Get(_ context.Context, id uuid.UUID) (*ParserSchema, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i := m.index(id); i >= 0 {
		s := m.schemas[i]
		return &s, nil
	}
	return nil, ErrNotFound
}

func (m *memStore) GetByName(_ context.Context, name string) (*ParserSchema, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.schemas {
		if s.Name == name {
			return &s, nil
		}
	}
	return nil, nil
}

func (m *memStore) Create(_ context.Context, s *ParserSchema) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.schemas {
		if existing.Name == s.Name {
			return fmt.Errorf("%w: %s", ErrNameTaken, s.Name)
		}
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	s.CreatedAt = m.tick()
	s.UpdatedAt = s.CreatedAt
	m.schemas = append(m.schemas, *s)
	return nil
}

func (m *memStore) Update(_ context.Context, s *ParserSchema) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.index(s.ID)
	if i < 0 {
		return ErrNotFound
	}
	s.CreatedAt = m.schemas[i].CreatedAt
	s.CreatedByAI = m.schemas[i].CreatedByAI
	s.UpdatedAt = m.tick()
	m.schemas[i] = *s
	return nil
}

func (m *memStore) SetActive(_ context.Context, id uuid.UUID, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.index(id)
	if i < 0 {
		return ErrNotFound
	}
	m.schemas[i].IsActive = active
	return nil
}

func (m *memStore) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.index(id)
	if i < 0 {
		return ErrNotFound
	}
	m.schemas = append(m.schemas[:i], m.schemas[i+1:]...)
	return nil
}

type countingInvalidator struct{ calls int }

func (c *countingInvalidator) Invalidate() { c.calls++ }

type stubGenerator struct {
	reply  string
	err    error
	prompt string
}

func (g *stubGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.prompt = prompt
	return g.reply, g.err
}
