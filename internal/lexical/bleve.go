package lexical

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"

	"github.com/symdex/symdex/internal/symbol"
	"github.com/symdex/symdex/internal/tokenize"
)

const (
	identTokenizerName = "ident_tokenizer"
	identAnalyzerName  = "ident_analyzer"
)

func init() {
	_ = registry.RegisterTokenizer(identTokenizerName, identTokenizerConstructor)
}

// BleveIndex is the alternative lexical backend built on Bleve's BM25
// scoring. It trades the hand-tuned name-match heuristics of Index for
// Bleve's relevance model; both backends expose the same surface so the
// engine can select either through configuration.
type BleveIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	logger *slog.Logger
	closed bool
}

// bleveDocument is the indexed projection of an element.
type bleveDocument struct {
	Name      string `json:"name"`
	Signature string `json:"signature"`
	Text      string `json:"text"`
	Kind      string `json:"kind"`
	FilePath  string `json:"file_path"`
}

// NewBleveIndex creates or opens a Bleve-backed lexical index. An empty
// path yields an in-memory index. A corrupt on-disk index is cleared and
// recreated rather than failing the open.
func NewBleveIndex(path string, logger *slog.Logger) (*BleveIndex, error) {
	if logger == nil {
		logger = slog.Default()
	}

	indexMapping, err := createIndexMapping()
	if err != nil {
		return nil, fmt.Errorf("create index mapping: %w", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create index directory: %w", err)
		}
		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, indexMapping)
		} else if err != nil {
			logger.Warn("bleve index unreadable, clearing",
				slog.String("path", path),
				slog.String("error", err.Error()))
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, fmt.Errorf("clear corrupt bleve index: %w", removeErr)
			}
			idx, err = bleve.New(path, indexMapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open bleve index: %w", err)
	}

	return &BleveIndex{index: idx, logger: logger}, nil
}

func createIndexMapping() (*mapping.IndexMappingImpl, error) {
	indexMapping := bleve.NewIndexMapping()
	err := indexMapping.AddCustomAnalyzer(identAnalyzerName, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     identTokenizerName,
		"token_filters": []string{lowercase.Name},
	})
	if err != nil {
		return nil, fmt.Errorf("add identifier analyzer: %w", err)
	}
	indexMapping.DefaultAnalyzer = identAnalyzerName
	return indexMapping, nil
}

// IndexElement adds or replaces the element document.
func (b *BleveIndex) IndexElement(el symbol.Element) error {
	if el.ID == "" {
		return fmt.Errorf("element id must not be empty")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("bleve index is closed")
	}

	doc := bleveDocument{
		Name:      symbol.SimpleName(el.ID),
		Signature: el.Signature,
		Text:      el.ID + " " + el.Signature,
		Kind:      string(el.Kind),
		FilePath:  el.FilePath,
	}
	if err := b.index.Index(el.ID, doc); err != nil {
		return fmt.Errorf("index element %s: %w", el.ID, err)
	}
	return nil
}

// Search runs a match query over name and text fields, boosting name hits.
func (b *BleveIndex) Search(query string, maxResults int) ([]Result, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, fmt.Errorf("bleve index is closed")
	}
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	nameQuery := bleve.NewMatchQuery(query)
	nameQuery.SetField("name")
	nameQuery.SetBoost(2.0)

	textQuery := bleve.NewMatchQuery(query)
	textQuery.SetField("text")

	prefixQuery := bleve.NewPrefixQuery(strings.ToLower(query))
	prefixQuery.SetField("name")

	req := bleve.NewSearchRequest(bleve.NewDisjunctionQuery(nameQuery, textQuery, prefixQuery))
	if maxResults > 0 {
		req.Size = maxResults
	}
	req.Fields = []string{"signature", "kind", "file_path"}

	res, err := b.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("bleve search: %w", err)
	}

	results := make([]Result, 0, len(res.Hits))
	for _, hit := range res.Hits {
		el := symbol.Element{ID: hit.ID}
		if sig, ok := hit.Fields["signature"].(string); ok {
			el.Signature = sig
		}
		if kind, ok := hit.Fields["kind"].(string); ok {
			el.Kind = symbol.Kind(kind)
		}
		if fp, ok := hit.Fields["file_path"].(string); ok {
			el.FilePath = fp
		}
		results = append(results, Result{Element: el, Score: hit.Score})
	}
	return results, nil
}

// Remove deletes the element document.
func (b *BleveIndex) Remove(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("bleve index is closed")
	}
	if err := b.index.Delete(id); err != nil {
		return fmt.Errorf("delete element %s: %w", id, err)
	}
	return nil
}

// Size returns the document count.
func (b *BleveIndex) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0
	}
	count, _ := b.index.DocCount()
	return int(count)
}

// Commit is a no-op; Bleve persists writes as they land.
func (b *BleveIndex) Commit() error {
	return nil
}

// Close closes the underlying Bleve index.
func (b *BleveIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}

// identTokenizerConstructor wires the identifier-aware tokenizer into
// Bleve's registry.
func identTokenizerConstructor(_ map[string]interface{}, _ *registry.Cache) (analysis.Tokenizer, error) {
	return &identTokenizer{}, nil
}

type identTokenizer struct{}

// Tokenize splits input on identifier conventions (camelCase, snake_case,
// dotted paths) via the shared tokenizer.
func (t *identTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	tokens := tokenize.Split(text)

	result := make(analysis.TokenStream, 0, len(tokens))
	pos := 1
	offset := 0
	for _, token := range tokens {
		start := strings.Index(strings.ToLower(text[offset:]), token)
		if start == -1 {
			start = offset
		} else {
			start += offset
		}
		end := start + len(token)

		result = append(result, &analysis.Token{
			Term:     []byte(token),
			Start:    start,
			End:      end,
			Position: pos,
			Type:     analysis.AlphaNumeric,
		})
		pos++
		if end <= len(text) {
			offset = end
		}
	}
	return result
}
