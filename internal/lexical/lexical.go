// Package lexical implements inverted-index name search over code
// elements. Identifiers are tokenized with prefix expansion at index time,
// so prefix queries resolve through plain posting lookups without a trie.
package lexical

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/symdex/symdex/internal/storage"
	"github.com/symdex/symdex/internal/symbol"
	"github.com/symdex/symdex/internal/tokenize"
)

// Scoring constants. Signals stack: an element can collect the exact bonus
// plus per-token matches in the same query.
const (
	scoreExactName     = 10
	scorePrefixName    = 5
	scoreSubstringName = 3
	scoreTokenMatch    = 2
	scoreAllTokens     = 5

	// Fuzzy matching applies only to queries of at least this length.
	minFuzzyQueryLen = 3
	// maxFuzzyDistance is the largest edit distance that still scores.
	maxFuzzyDistance = 2
)

// Result is one scored search hit.
type Result struct {
	Element symbol.Element
	Score   float64
}

// Index is the inverted-index lexical searcher. Element records persist
// through the backing store; postings are rebuilt from it on open.
type Index struct {
	mu       sync.RWMutex
	elements storage.Store[symbol.Element]
	postings map[string]map[string]struct{}
	logger   *slog.Logger
	closed   bool
}

// New builds an index over the given element store, rebuilding postings
// from any elements it already holds.
func New(elements storage.Store[symbol.Element], logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ix := &Index{
		elements: elements,
		postings: make(map[string]map[string]struct{}),
		logger:   logger,
	}

	keys, err := elements.Keys()
	if err != nil {
		return nil, fmt.Errorf("list persisted elements: %w", err)
	}
	for _, id := range keys {
		el, ok, err := elements.Get(id)
		if err != nil {
			return nil, fmt.Errorf("load element %s: %w", id, err)
		}
		if !ok {
			continue
		}
		ix.addPostings(el)
	}
	if len(keys) > 0 {
		logger.Info("lexical index loaded",
			slog.Int("elements", len(keys)),
			slog.Int("tokens", len(ix.postings)))
	}
	return ix, nil
}

// NewInMemory builds a non-persistent index.
func NewInMemory(logger *slog.Logger) *Index {
	ix, _ := New(storage.NewMemStore[symbol.Element](), logger)
	return ix
}

// Open builds a disk-backed index under dir: LRU-cached JSON shards for
// element records, postings rebuilt in memory.
func Open(dir string, cacheCapacity int, logger *slog.Logger) (*Index, error) {
	shards, err := storage.OpenShardStore[symbol.Element](dir, logger)
	if err != nil {
		return nil, err
	}
	cached, err := storage.NewCachedStore[symbol.Element](shards, storage.CacheOptions{
		Capacity: cacheCapacity,
		Logger:   logger,
	})
	if err != nil {
		_ = shards.Close()
		return nil, err
	}
	return New(cached, logger)
}

// IndexElement adds or replaces the element. A prior record for the same
// id has its postings retracted first.
func (ix *Index) IndexElement(el symbol.Element) error {
	if el.ID == "" {
		return fmt.Errorf("element id must not be empty")
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.closed {
		return fmt.Errorf("lexical index is closed")
	}

	if prior, ok, err := ix.elements.Get(el.ID); err != nil {
		return fmt.Errorf("load prior element %s: %w", el.ID, err)
	} else if ok {
		ix.removePostings(prior)
	}

	if err := ix.elements.Put(el.ID, el); err != nil {
		return fmt.Errorf("store element %s: %w", el.ID, err)
	}
	ix.addPostings(el)
	return nil
}

// Remove deletes the element record and retracts its postings.
func (ix *Index) Remove(id string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.closed {
		return fmt.Errorf("lexical index is closed")
	}

	el, ok, err := ix.elements.Get(id)
	if err != nil {
		return fmt.Errorf("load element %s: %w", id, err)
	}
	if !ok {
		return nil
	}
	ix.removePostings(el)
	return ix.elements.Remove(id)
}

// Search tokenizes the query, gathers candidates from postings, scores
// them, and returns up to maxResults hits ordered by score descending
// (ties broken by id).
func (ix *Index) Search(query string, maxResults int) ([]Result, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if ix.closed {
		return nil, fmt.Errorf("lexical index is closed")
	}

	queryTokens := tokenize.Query(query)
	if len(queryTokens) == 0 {
		return nil, nil
	}

	candidates := make(map[string]struct{})
	for _, token := range queryTokens {
		for id := range ix.postings[token] {
			candidates[id] = struct{}{}
		}
	}

	queryLower := strings.ToLower(strings.TrimSpace(query))
	fuzzy := ix.fuzzyCandidates(queryLower)
	for id := range fuzzy {
		candidates[id] = struct{}{}
	}

	results := make([]Result, 0, len(candidates))
	for id := range candidates {
		el, ok, err := ix.elements.Get(id)
		if err != nil {
			return nil, fmt.Errorf("load candidate %s: %w", id, err)
		}
		if !ok {
			continue
		}
		score := scoreElement(el, queryLower, queryTokens) + fuzzy[id]
		if score > 0 {
			results = append(results, Result{Element: el, Score: float64(score)})
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Element.ID < results[j].Element.ID
	})
	if maxResults > 0 && len(results) > maxResults {
		results = results[:maxResults]
	}
	return results, nil
}

// scoreElement combines the name-match signals for one candidate.
func scoreElement(el symbol.Element, queryLower string, queryTokens []string) int {
	score := 0
	simpleName := strings.ToLower(symbol.SimpleName(el.ID))

	switch {
	case simpleName == queryLower:
		score += scoreExactName
	case strings.HasPrefix(simpleName, queryLower):
		score += scorePrefixName
	case strings.Contains(simpleName, queryLower):
		score += scoreSubstringName
	}

	text := strings.ToLower(el.ID + " " + el.Signature)
	matched := 0
	for _, token := range queryTokens {
		if strings.Contains(text, token) {
			score += scoreTokenMatch
			matched++
		}
	}
	if len(queryTokens) > 1 && matched == len(queryTokens) {
		score += scoreAllTokens
	}
	return score
}

// fuzzyCandidates scans simple names for near-misses of the query and
// returns their fuzzy bonus (3 - distance). Exact matches score through
// the normal path, not here.
func (ix *Index) fuzzyCandidates(queryLower string) map[string]int {
	if len(queryLower) < minFuzzyQueryLen {
		return nil
	}

	bonuses := make(map[string]int)
	keys, err := ix.elements.Keys()
	if err != nil {
		ix.logger.Warn("fuzzy pass skipped", slog.String("error", err.Error()))
		return nil
	}
	for _, id := range keys {
		name := strings.ToLower(symbol.SimpleName(id))
		delta := len(name) - len(queryLower)
		if delta < -maxFuzzyDistance || delta > maxFuzzyDistance {
			continue
		}
		d := editDistance(name, queryLower)
		if d >= 1 && d <= maxFuzzyDistance {
			bonuses[id] = maxFuzzyDistance + 1 - d
		}
	}
	return bonuses
}

func (ix *Index) addPostings(el symbol.Element) {
	for _, token := range elementTokens(el) {
		set, ok := ix.postings[token]
		if !ok {
			set = make(map[string]struct{})
			ix.postings[token] = set
		}
		set[el.ID] = struct{}{}
	}
}

func (ix *Index) removePostings(el symbol.Element) {
	for _, token := range elementTokens(el) {
		set, ok := ix.postings[token]
		if !ok {
			continue
		}
		delete(set, el.ID)
		if len(set) == 0 {
			delete(ix.postings, token)
		}
	}
}

// elementTokens derives the index terms for one element: id, signature,
// and the id's package/class/member parts, expanded with prefixes.
func elementTokens(el symbol.Element) []string {
	parts := []string{
		el.ID,
		el.Signature,
		symbol.PackageOf(el.ID),
		symbol.ClassName(el.ID),
		symbol.SimpleName(el.ID),
	}
	for _, extra := range el.Extra {
		parts = append(parts, extra)
	}
	return tokenize.WithPrefixes(strings.Join(parts, " "))
}

// Size returns the number of indexed elements.
func (ix *Index) Size() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	keys, err := ix.elements.Keys()
	if err != nil {
		return 0
	}
	return len(keys)
}

// Get returns the stored element record for id.
func (ix *Index) Get(id string) (symbol.Element, bool, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if ix.closed {
		return symbol.Element{}, false, fmt.Errorf("lexical index is closed")
	}
	return ix.elements.Get(id)
}

// Commit flushes the backing store.
func (ix *Index) Commit() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.closed {
		return fmt.Errorf("lexical index is closed")
	}
	return ix.elements.Commit()
}

// Close commits and releases the backing store.
func (ix *Index) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.closed {
		return nil
	}
	ix.closed = true
	return ix.elements.Close()
}
