package schema

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/FACorreiaa/familyfinance/internal/domain/import/parser"
	"github.com/FACorreiaa/familyfinance/internal/domain/import/repository"
)

// Store persists parser schemas. It is also the schema parser's source.
type Store interface {
	parser.SchemaSource
	List(ctx context.Context, activeOnly bool) ([]ParserSchema, error)
	Get(ctx context.Context, id uuid.UUID) (*ParserSchema, error)
	// GetByName returns nil, nil when no schema has the name.
	GetByName(ctx context.Context, name string) (*ParserSchema, error)
	Create(ctx context.Context, s *ParserSchema) error
	Update(ctx context.Context, s *ParserSchema) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// Repository stores parser schemas in Postgres with the rule sets as jsonb.
type Repository struct {
	db repository.Querier
}

func NewRepository(db repository.Querier) *Repository {
	return &Repository{db: db}
}

const schemaColumns = `id, name, coalesce(description, ''), file_type, detection_rules, column_mapping,
	transform_rules, is_active, created_by_ai, sample_data, created_at, updated_at`

func scanSchema(row pgx.Row) (*ParserSchema, error) {
	var s ParserSchema
	var detection, mapping, transform, sample []byte
	err := row.Scan(&s.ID, &s.Name, &s.Description, &s.FileType, &detection, &mapping,
		&transform, &s.IsActive, &s.CreatedByAI, &sample, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := decodeJSON(detection, &s.DetectionRules); err != nil {
		return nil, fmt.Errorf("schema %s detection_rules: %w", s.Name, err)
	}
	if err := decodeJSON(mapping, &s.ColumnMapping); err != nil {
		return nil, fmt.Errorf("schema %s column_mapping: %w", s.Name, err)
	}
	if err := decodeJSON(transform, &s.TransformRules); err != nil {
		return nil, fmt.Errorf("schema %s transform_rules: %w", s.Name, err)
	}
	if err := decodeJSON(sample, &s.SampleData); err != nil {
		return nil, fmt.Errorf("schema %s sample_data: %w", s.Name, err)
	}
	return &s, nil
}

func decodeJSON(raw []byte, dest any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, dest)
}

func (r *Repository) list(ctx context.Context, query string, args ...any) ([]ParserSchema, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list parser schemas: %w", err)
	}
	defer rows.Close()

	var out []ParserSchema
	for rows.Next() {
		s, err := scanSchema(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan parser schema: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// ActiveSchemas returns the active schemas in detection order.
func (r *Repository) ActiveSchemas(ctx context.Context) ([]parser.Schema, error) {
	stored, err := r.list(ctx, `SELECT `+schemaColumns+` FROM parser_schemas WHERE is_active ORDER BY created_at, name`)
	if err != nil {
		return nil, err
	}
	out := make([]parser.Schema, len(stored))
	for i, s := range stored {
		out[i] = s.ToParser()
	}
	return out, nil
}

// List returns schemas newest first.
func (r *Repository) List(ctx context.Context, activeOnly bool) ([]ParserSchema, error) {
	query := `SELECT ` + schemaColumns + ` FROM parser_schemas WHERE ($1 = false OR is_active) ORDER BY created_at DESC, name`
	return r.list(ctx, query, activeOnly)
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*ParserSchema, error) {
	s, err := scanSchema(r.db.QueryRow(ctx, `SELECT `+schemaColumns+` FROM parser_schemas WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get parser schema: %w", err)
	}
	return s, nil
}

func (r *Repository) GetByName(ctx context.Context, name string) (*ParserSchema, error) {
	s, err := scanSchema(r.db.QueryRow(ctx, `SELECT `+schemaColumns+` FROM parser_schemas WHERE name = $1`, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get parser schema: %w", err)
	}
	return s, nil
}

type encodedRules struct {
	detection, mapping, transform, sample []byte
}

func encodeRules(s *ParserSchema) (encodedRules, error) {
	var (
		e   encodedRules
		err error
	)
	if e.detection, err = json.Marshal(s.DetectionRules); err != nil {
		return e, err
	}
	if s.ColumnMapping == nil {
		s.ColumnMapping = map[string]string{}
	}
	if e.mapping, err = json.Marshal(s.ColumnMapping); err != nil {
		return e, err
	}
	if e.transform, err = json.Marshal(s.TransformRules); err != nil {
		return e, err
	}
	if s.SampleData != nil {
		if e.sample, err = json.Marshal(s.SampleData); err != nil {
			return e, err
		}
	}
	return e, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Create inserts s, assigning its id and timestamps. A duplicate name is
// reported as ErrNameTaken.
func (r *Repository) Create(ctx context.Context, s *ParserSchema) error {
	enc, err := encodeRules(s)
	if err != nil {
		return fmt.Errorf("failed to encode parser schema: %w", err)
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}

	query := `
		INSERT INTO parser_schemas (id, name, description, file_type, detection_rules, column_mapping,
			transform_rules, is_active, created_by_ai, sample_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (name) DO NOTHING
		RETURNING created_at, updated_at`

	err = r.db.QueryRow(ctx, query, s.ID, s.Name, nullable(s.Description), s.FileType,
		enc.detection, enc.mapping, enc.transform, s.IsActive, s.CreatedByAI, enc.sample,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) || isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrNameTaken, s.Name)
	}
	if err != nil {
		return fmt.Errorf("failed to create parser schema: %w", err)
	}
	return nil
}

// Update replaces every editable column of the schema with id s.ID.
func (r *Repository) Update(ctx context.Context, s *ParserSchema) error {
	enc, err := encodeRules(s)
	if err != nil {
		return fmt.Errorf("failed to encode parser schema: %w", err)
	}

	query := `
		UPDATE parser_schemas
		SET name = $2, description = $3, file_type = $4, detection_rules = $5, column_mapping = $6,
			transform_rules = $7, is_active = $8, sample_data = $9, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`

	err = r.db.QueryRow(ctx, query, s.ID, s.Name, nullable(s.Description), s.FileType,
		enc.detection, enc.mapping, enc.transform, s.IsActive, enc.sample,
	).Scan(&s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrNameTaken, s.Name)
	}
	if err != nil {
		return fmt.Errorf("failed to update parser schema: %w", err)
	}
	return nil
}

func (r *Repository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := r.db.Exec(ctx, `UPDATE parser_schemas SET is_active = $2, updated_at = now() WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("failed to update parser schema: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM parser_schemas WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete parser schema: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
