package categorization

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/simple"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/FACorreiaa/familyfinance/internal/plugin"
)

// contextDocument is the indexed form of a plugin.ContextRecord.
type contextDocument struct {
	Description string `json:"description"`
	Merchant    string `json:"merchant"`
	Category    string `json:"category"`
	Date        string `json:"date"`
}

// ContextHit is a record returned by ContextIndex.Search.
type ContextHit struct {
	Record plugin.ContextRecord
	Score  float64
}

// ContextIndex is an in-memory full-text index over transaction records,
// used to answer questions about a set of transactions offline.
type ContextIndex struct {
	index   bleve.Index
	records []plugin.ContextRecord
	mu      sync.RWMutex
}

// NewContextIndex indexes records in memory.
func NewContextIndex(records []plugin.ContextRecord) (*ContextIndex, error) {
	index, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create index: %w", err)
	}

	ci := &ContextIndex{index: index, records: records}
	batch := index.NewBatch()
	for i, r := range records {
		doc := contextDocument{
			Description: r.Description,
			Merchant:    r.MerchantName,
			Category:    r.Category,
			Date:        r.Date,
		}
		if err := batch.Index(strconv.Itoa(i), doc); err != nil {
			_ = index.Close()
			return nil, fmt.Errorf("failed to index record %d: %w", i, err)
		}
	}
	if err := index.Batch(batch); err != nil {
		_ = index.Close()
		return nil, fmt.Errorf("failed to execute batch index: %w", err)
	}
	return ci, nil
}

// buildIndexMapping creates the Bleve index mapping for context records
func buildIndexMapping() mapping.IndexMapping {
	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = simple.Name

	keywordFieldMapping := bleve.NewTextFieldMapping()
	keywordFieldMapping.Analyzer = keyword.Name

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("description", textFieldMapping)
	docMapping.AddFieldMappingsAt("merchant", textFieldMapping)
	docMapping.AddFieldMappingsAt("category", textFieldMapping)
	docMapping.AddFieldMappingsAt("date", keywordFieldMapping)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = simple.Name
	return indexMapping
}

// Search runs a fuzzy match query over description, merchant and category.
func (ci *ContextIndex) Search(query string, limit int) ([]ContextHit, error) {
	ci.mu.RLock()
	defer ci.mu.RUnlock()

	if limit <= 0 {
		limit = 10
	}

	matchQuery := bleve.NewMatchQuery(query)
	matchQuery.SetFuzziness(1)

	req := bleve.NewSearchRequest(matchQuery)
	req.Size = limit

	res, err := ci.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	hits := make([]ContextHit, 0, len(res.Hits))
	for _, h := range res.Hits {
		i, err := strconv.Atoi(h.ID)
		if err != nil || i < 0 || i >= len(ci.records) {
			continue
		}
		hits = append(hits, ContextHit{Record: ci.records[i], Score: h.Score})
	}
	return hits, nil
}

// DocumentCount returns the number of indexed records.
func (ci *ContextIndex) DocumentCount() (uint64, error) {
	ci.mu.RLock()
	defer ci.mu.RUnlock()
	return ci.index.DocCount()
}

// Close closes the index
func (ci *ContextIndex) Close() error {
	ci.mu.Lock()
	defer ci.mu.Unlock()
	return ci.index.Close()
}
