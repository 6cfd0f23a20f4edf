package schema

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/familyfinance/internal/domain/import/parser"
)

func validSchema(name string) *ParserSchema {
	return &ParserSchema{
		Name:     name,
		FileType: "csv",
		DetectionRules: parser.DetectionRules{
			FileExtension:  parser.StringList{".csv"},
			HeaderContains: parser.StringList{"Posting Date"},
		},
		ColumnMapping: map[string]string{"date": "Posting Date", "amount_cents": "Amount"},
		IsActive:      true,
	}
}

func TestParserSchema_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ParserSchema)
		wantErr bool
	}{
		{"valid", func(*ParserSchema) {}, false},
		{"blank name", func(s *ParserSchema) { s.Name = "  " }, true},
		{"long name", func(s *ParserSchema) { s.Name = string(make([]rune, MaxNameLen+1)) }, true},
		{"unknown file type", func(s *ParserSchema) { s.FileType = "json" }, true},
		{"xlsx file type", func(s *ParserSchema) { s.FileType = "xlsx" }, false},
		{"no mapping", func(s *ParserSchema) { s.ColumnMapping = nil }, true},
		{"bad header pattern", func(s *ParserSchema) { s.DetectionRules.HeaderPattern = "(" }, true},
		{"bad filename pattern", func(s *ParserSchema) { s.DetectionRules.FilenamePattern = "[a-" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSchema("chase")
			tt.mutate(s)
			err := s.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSchema)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestService_Mutations(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	inv := &countingInvalidator{}
	svc := NewService(store, inv, quietLogger())

	s := validSchema(" chase ")
	require.NoError(t, svc.Create(ctx, s))
	assert.Equal(t, "chase", s.Name)
	assert.NotEqual(t, uuid.Nil, s.ID)
	assert.Equal(t, 1, inv.calls)

	err := svc.Create(ctx, validSchema("chase"))
	assert.ErrorIs(t, err, ErrNameTaken)
	assert.Equal(t, 1, inv.calls, "failed writes keep the cache")

	bad := validSchema("broken")
	bad.FileType = "doc"
	assert.ErrorIs(t, svc.Create(ctx, bad), ErrInvalidSchema)

	s.Description = "Chase checking"
	require.NoError(t, svc.Update(ctx, s))
	assert.Equal(t, 2, inv.calls)

	require.NoError(t, svc.SetActive(ctx, s.ID, false))
	assert.Equal(t, 3, inv.calls)
	active, err := svc.List(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, active)

	got, err := svc.Resolve(ctx, "chase")
	require.NoError(t, err)
	assert.Equal(t, "Chase checking", got.Description)
	got, err = svc.Resolve(ctx, s.ID.String())
	require.NoError(t, err)
	assert.Equal(t, "chase", got.Name)

	require.NoError(t, svc.Delete(ctx, s.ID))
	assert.Equal(t, 4, inv.calls)

	_, err = svc.Resolve(ctx, "chase")
	assert.True(t, IsNotFound(err))
	assert.True(t, IsNotFound(svc.Delete(ctx, s.ID)))
}

func TestService_ImportYAML(t *testing.T) {
	ctx := context.Background()
	data, err := os.ReadFile("testdata/schemas.yaml")
	require.NoError(t, err)

	t.Run("creates then replaces by name", func(t *testing.T) {
		store := newMemStore()
		inv := &countingInvalidator{}
		svc := NewService(store, inv, quietLogger())

		res, err := svc.ImportYAML(ctx, data)
		require.NoError(t, err)
		assert.Equal(t, ImportResult{Created: 2}, res)
		assert.Equal(t, 1, inv.calls)

		chase, err := store.GetByName(ctx, "chase-checking")
		require.NoError(t, err)
		require.NotNil(t, chase)
		assert.True(t, chase.IsActive, "is_active defaults to true")
		assert.Equal(t, parser.StringList{".csv"}, chase.DetectionRules.FileExtension)
		assert.Equal(t, "-100", chase.TransformRules.AmountMultiplier.String())
		assert.Equal(t, "Chase", chase.TransformRules.Defaults["institution_name"])

		amex, err := store.GetByName(ctx, "amex-card")
		require.NoError(t, err)
		assert.False(t, amex.IsActive)
		assert.Equal(t, "^activity", amex.DetectionRules.FilenamePattern)

		res, err = svc.ImportYAML(ctx, data)
		require.NoError(t, err)
		assert.Equal(t, ImportResult{Updated: 2}, res)

		again, err := store.GetByName(ctx, "chase-checking")
		require.NoError(t, err)
		assert.Equal(t, chase.ID, again.ID)
	})

	t.Run("rejects the whole file on one invalid entry", func(t *testing.T) {
		store := newMemStore()
		svc := NewService(store, nil, quietLogger())

		doc := []byte(`
schemas:
  - name: ok
    file_type: csv
    column_mapping: {date: Date}
  - name: bad
    file_type: csv
`)
		_, err := svc.ImportYAML(ctx, doc)
		assert.ErrorIs(t, err, ErrInvalidSchema)
		all, _ := store.List(ctx, false)
		assert.Empty(t, all)
	})

	t.Run("rejects duplicate names", func(t *testing.T) {
		svc := NewService(newMemStore(), nil, quietLogger())
		doc := []byte(`
schemas:
  - {name: a, file_type: csv, column_mapping: {date: Date}}
  - {name: a, file_type: csv, column_mapping: {date: Date}}
`)
		_, err := svc.ImportYAML(ctx, doc)
		assert.ErrorIs(t, err, ErrInvalidSchema)
	})

	t.Run("empty file", func(t *testing.T) {
		svc := NewService(newMemStore(), nil, quietLogger())
		_, err := svc.ImportYAML(ctx, []byte("schemas: []\n"))
		assert.ErrorIs(t, err, ErrInvalidSchema)
	})
}

func TestService_ExportYAML(t *testing.T) {
	ctx := context.Background()
	data, err := os.ReadFile("testdata/schemas.yaml")
	require.NoError(t, err)

	src := NewService(newMemStore(), nil, quietLogger())
	_, err = src.ImportYAML(ctx, data)
	require.NoError(t, err)

	out, err := src.ExportYAML(ctx, "amex-card")
	require.NoError(t, err)
	assert.Contains(t, string(out), "name: amex-card")
	assert.Contains(t, string(out), "is_active: false")
	assert.NotContains(t, string(out), "chase-checking")

	dst := NewService(newMemStore(), nil, quietLogger())
	res, err := dst.ImportYAML(ctx, out)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)

	all, err := src.ExportYAML(ctx)
	require.NoError(t, err)
	assert.Contains(t, string(all), "chase-checking")

	_, err = src.ExportYAML(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
