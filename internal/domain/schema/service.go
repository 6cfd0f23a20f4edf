package schema

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Invalidator drops a parser's cached schemas. *parser.SchemaParser
// satisfies it.
type Invalidator interface {
	Invalidate()
}

// Document is the YAML file format used by ImportYAML and ExportYAML.
type Document struct {
	Schemas []Entry `yaml:"schemas"`
}

// Entry is one schema in a Document. Active defaults to true.
type Entry struct {
	ParserSchema `yaml:",inline"`
	Active       *bool `yaml:"is_active,omitempty"`
}

// ImportResult counts the schemas written by ImportYAML.
type ImportResult struct {
	Created int
	Updated int
}

// Service is the admin boundary for parser schemas. Every mutation
// invalidates the schema parser so the next detection sees it.
type Service struct {
	store  Store
	parser Invalidator
	logger *slog.Logger
}

func NewService(store Store, parser Invalidator, logger *slog.Logger) *Service {
	return &Service{store: store, parser: parser, logger: logger}
}

func (s *Service) invalidate() {
	if s.parser != nil {
		s.parser.Invalidate()
	}
}

func (s *Service) List(ctx context.Context, activeOnly bool) ([]ParserSchema, error) {
	return s.store.List(ctx, activeOnly)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*ParserSchema, error) {
	return s.store.Get(ctx, id)
}

// Resolve finds a schema by id or, failing that, by name.
func (s *Service) Resolve(ctx context.Context, ref string) (*ParserSchema, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return s.store.Get(ctx, id)
	}
	found, err := s.store.GetByName(ctx, ref)
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return found, nil
}

func (s *Service) Create(ctx context.Context, in *ParserSchema) error {
	in.Name = strings.TrimSpace(in.Name)
	if err := in.Validate(); err != nil {
		return err
	}
	if err := s.store.Create(ctx, in); err != nil {
		return err
	}
	s.invalidate()
	s.logger.Info("parser schema created", slog.String("name", in.Name), slog.Bool("ai", in.CreatedByAI))
	return nil
}

func (s *Service) Update(ctx context.Context, in *ParserSchema) error {
	in.Name = strings.TrimSpace(in.Name)
	if err := in.Validate(); err != nil {
		return err
	}
	if err := s.store.Update(ctx, in); err != nil {
		return err
	}
	s.invalidate()
	s.logger.Info("parser schema updated", slog.String("name", in.Name))
	return nil
}

func (s *Service) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	if err := s.store.SetActive(ctx, id, active); err != nil {
		return err
	}
	s.invalidate()
	s.logger.Info("parser schema toggled", slog.String("id", id.String()), slog.Bool("active", active))
	return nil
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidate()
	s.logger.Info("parser schema deleted", slog.String("id", id.String()))
	return nil
}

// ImportYAML creates or, matching by name, replaces the schemas in data.
// Nothing is written unless every entry validates.
func (s *Service) ImportYAML(ctx context.Context, data []byte) (ImportResult, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return ImportResult{}, fmt.Errorf("failed to decode schema file: %w", err)
	}
	if len(doc.Schemas) == 0 {
		return ImportResult{}, fmt.Errorf("%w: no schemas in file", ErrInvalidSchema)
	}

	seen := make(map[string]bool, len(doc.Schemas))
	for i := range doc.Schemas {
		e := &doc.Schemas[i]
		e.Name = strings.TrimSpace(e.Name)
		e.IsActive = e.Active == nil || *e.Active
		if err := e.Validate(); err != nil {
			return ImportResult{}, fmt.Errorf("schema %d (%s): %w", i+1, e.Name, err)
		}
		if seen[e.Name] {
			return ImportResult{}, fmt.Errorf("%w: %s appears twice", ErrInvalidSchema, e.Name)
		}
		seen[e.Name] = true
	}

	var res ImportResult
	defer func() {
		if res.Created+res.Updated > 0 {
			s.invalidate()
		}
	}()

	for i := range doc.Schemas {
		in := doc.Schemas[i].ParserSchema
		existing, err := s.store.GetByName(ctx, in.Name)
		if err != nil {
			return res, err
		}
		if existing == nil {
			if err := s.store.Create(ctx, &in); err != nil {
				return res, err
			}
			res.Created++
			continue
		}
		in.ID = existing.ID
		if in.SampleData == nil {
			in.SampleData = existing.SampleData
		}
		if err := s.store.Update(ctx, &in); err != nil {
			return res, err
		}
		res.Updated++
	}

	s.logger.Info("parser schemas imported", slog.Int("created", res.Created), slog.Int("updated", res.Updated))
	return res, nil
}

// ExportYAML encodes the named schemas, or all of them when names is empty.
func (s *Service) ExportYAML(ctx context.Context, names ...string) ([]byte, error) {
	var selected []ParserSchema
	if len(names) == 0 {
		all, err := s.store.List(ctx, false)
		if err != nil {
			return nil, err
		}
		selected = all
	}
	for _, name := range names {
		found, err := s.store.GetByName(ctx, name)
		if err != nil {
			return nil, err
		}
		if found == nil {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		selected = append(selected, *found)
	}

	doc := Document{Schemas: make([]Entry, len(selected))}
	for i, ps := range selected {
		active := ps.IsActive
		doc.Schemas[i] = Entry{ParserSchema: ps, Active: &active}
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode schemas: %w", err)
	}
	return out, nil
}

// IsNotFound reports whether err means the schema does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
