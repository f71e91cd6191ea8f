// Package structural indexes relationships between code elements. Forward
// edges come from the stored structures; reverse adjacency (callers,
// subclasses, implementors, overriders, field accessors) is derived at
// index time and retracted on removal.
package structural

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/symdex/symdex/internal/storage"
	"github.com/symdex/symdex/internal/symbol"
)

// Similarity weights. A factor contributes only when it connects the two
// elements; the sum is normalized by the number of contributing factors.
const (
	weightPackage    = 0.2
	weightSuperClass = 0.3
	weightInterfaces = 0.2
	weightCalls      = 0.15
	weightFields     = 0.15

	// SimilarThreshold is the minimum similarity FindStructurallySimilar
	// reports.
	SimilarThreshold = 0.1
)

// SimilarResult is one scored structural-similarity hit.
type SimilarResult struct {
	ID    string
	Score float64
}

// Index is the structural relationship index.
type Index struct {
	mu         sync.RWMutex
	structures storage.Store[symbol.Structure]

	// Reverse adjacency, target id -> set of source ids.
	calledBy        map[string]map[string]struct{}
	extendedBy      map[string]map[string]struct{}
	implementedBy   map[string]map[string]struct{}
	overriddenBy    map[string]map[string]struct{}
	fieldAccessedBy map[string]map[string]struct{}

	// Package dependency edges derived from call targets.
	packageDeps map[string]map[string]struct{}

	logger *slog.Logger
	closed bool
}

// New builds a structural index over the given store, deriving reverse
// adjacency from any structures it already holds.
func New(structures storage.Store[symbol.Structure], logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ix := &Index{
		structures:      structures,
		calledBy:        make(map[string]map[string]struct{}),
		extendedBy:      make(map[string]map[string]struct{}),
		implementedBy:   make(map[string]map[string]struct{}),
		overriddenBy:    make(map[string]map[string]struct{}),
		fieldAccessedBy: make(map[string]map[string]struct{}),
		packageDeps:     make(map[string]map[string]struct{}),
		logger:          logger,
	}

	keys, err := structures.Keys()
	if err != nil {
		return nil, fmt.Errorf("list structures: %w", err)
	}
	for _, id := range keys {
		st, ok, err := structures.Get(id)
		if err != nil {
			return nil, fmt.Errorf("load structure %s: %w", id, err)
		}
		if ok {
			ix.addEdges(&st)
		}
	}
	if len(keys) > 0 {
		logger.Info("structural index loaded", slog.Int("elements", len(keys)))
	}
	return ix, nil
}

// NewInMemory builds a non-persistent structural index.
func NewInMemory(logger *slog.Logger) *Index {
	ix, _ := New(storage.NewMemStore[symbol.Structure](), logger)
	return ix
}

// Open builds a disk-backed structural index under dir.
func Open(dir string, cacheCapacity int, logger *slog.Logger) (*Index, error) {
	shards, err := storage.OpenShardStore[symbol.Structure](dir, logger)
	if err != nil {
		return nil, err
	}
	cached, err := storage.NewCachedStore[symbol.Structure](shards, storage.CacheOptions{
		Capacity: cacheCapacity,
		Logger:   logger,
	})
	if err != nil {
		_ = shards.Close()
		return nil, err
	}
	return New(cached, logger)
}

// IndexElement stores the structure and inserts id into the reverse set of
// every element its forward edges point at. Re-indexing the same id
// retracts the prior edges first.
func (ix *Index) IndexElement(st *symbol.Structure) error {
	if st == nil || st.ID == "" {
		return fmt.Errorf("structure id must not be empty")
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.closed {
		return fmt.Errorf("structural index is closed")
	}

	if prior, ok, err := ix.structures.Get(st.ID); err != nil {
		return fmt.Errorf("load prior structure %s: %w", st.ID, err)
	} else if ok {
		ix.removeEdges(&prior)
	}

	if err := ix.structures.Put(st.ID, *st); err != nil {
		return fmt.Errorf("store structure %s: %w", st.ID, err)
	}
	ix.addEdges(st)
	return nil
}

// Remove deletes the structure and retracts id from every reverse set it
// populated.
func (ix *Index) Remove(id string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.closed {
		return fmt.Errorf("structural index is closed")
	}

	st, ok, err := ix.structures.Get(id)
	if err != nil {
		return fmt.Errorf("load structure %s: %w", id, err)
	}
	if !ok {
		return nil
	}
	ix.removeEdges(&st)
	return ix.structures.Remove(id)
}

// Get returns the stored structure for id.
func (ix *Index) Get(id string) (symbol.Structure, bool, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if ix.closed {
		return symbol.Structure{}, false, fmt.Errorf("structural index is closed")
	}
	return ix.structures.Get(id)
}

// FindCallers returns the elements whose call edges point at id.
func (ix *Index) FindCallers(id string) []string {
	return ix.reverseSet(ix.calledBy, id)
}

// FindCallees returns the elements id calls.
func (ix *Index) FindCallees(id string) []string {
	return ix.forwardSet(id, func(st *symbol.Structure) map[string]struct{} { return st.Calls })
}

// FindSubclasses returns the elements extending id.
func (ix *Index) FindSubclasses(id string) []string {
	return ix.reverseSet(ix.extendedBy, id)
}

// FindImplementations returns the elements implementing id.
func (ix *Index) FindImplementations(id string) []string {
	return ix.reverseSet(ix.implementedBy, id)
}

// FindOverriders returns the elements overriding id.
func (ix *Index) FindOverriders(id string) []string {
	return ix.reverseSet(ix.overriddenBy, id)
}

// FindFieldAccessors returns the elements accessing field id.
func (ix *Index) FindFieldAccessors(id string) []string {
	return ix.reverseSet(ix.fieldAccessedBy, id)
}

// FindAllRelated merges id's forward edges with the derived reverse edges
// pointing at it, grouped by relation kind. Relations with no members are
// omitted.
func (ix *Index) FindAllRelated(id string) (map[symbol.Relation][]string, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if ix.closed {
		return nil, fmt.Errorf("structural index is closed")
	}

	related := make(map[symbol.Relation][]string)
	add := func(rel symbol.Relation, ids []string) {
		if len(ids) > 0 {
			related[rel] = ids
		}
	}

	if st, ok, err := ix.structures.Get(id); err != nil {
		return nil, fmt.Errorf("load structure %s: %w", id, err)
	} else if ok {
		add(symbol.RelationCalls, sortedSet(st.Calls))
		add(symbol.RelationImplements, sortedSet(st.Implements))
		add(symbol.RelationOverrides, sortedSet(st.Overrides))
		add(symbol.RelationAccessesField, sortedSet(st.AccessesFields))
		if st.SuperClass != "" {
			add(symbol.RelationExtends, []string{st.SuperClass})
		}
	}

	add(symbol.RelationCalledBy, sortedSet(ix.calledBy[id]))
	add(symbol.RelationExtendedBy, sortedSet(ix.extendedBy[id]))
	add(symbol.RelationImplementedBy, sortedSet(ix.implementedBy[id]))
	add(symbol.RelationOverriddenBy, sortedSet(ix.overriddenBy[id]))
	add(symbol.RelationFieldAccessedBy, sortedSet(ix.fieldAccessedBy[id]))
	return related, nil
}

// Similarity computes the weighted structural similarity between two
// stored elements. Unknown ids score 0.
func (ix *Index) Similarity(aID, bID string) (float64, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if ix.closed {
		return 0, fmt.Errorf("structural index is closed")
	}

	a, okA, err := ix.structures.Get(aID)
	if err != nil {
		return 0, fmt.Errorf("load structure %s: %w", aID, err)
	}
	b, okB, err := ix.structures.Get(bID)
	if err != nil {
		return 0, fmt.Errorf("load structure %s: %w", bID, err)
	}
	if !okA || !okB {
		return 0, nil
	}
	return similarity(&a, &b), nil
}

// FindStructurallySimilar scores id against every other stored element and
// returns those above the threshold, best first.
func (ix *Index) FindStructurallySimilar(id string, maxResults int) ([]SimilarResult, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if ix.closed {
		return nil, fmt.Errorf("structural index is closed")
	}

	target, ok, err := ix.structures.Get(id)
	if err != nil {
		return nil, fmt.Errorf("load structure %s: %w", id, err)
	}
	if !ok {
		return nil, nil
	}

	keys, err := ix.structures.Keys()
	if err != nil {
		return nil, fmt.Errorf("list structures: %w", err)
	}

	results := make([]SimilarResult, 0)
	for _, otherID := range keys {
		if otherID == id {
			continue
		}
		other, ok, err := ix.structures.Get(otherID)
		if err != nil {
			return nil, fmt.Errorf("load structure %s: %w", otherID, err)
		}
		if !ok {
			continue
		}
		score := similarity(&target, &other)
		if score > SimilarThreshold {
			results = append(results, SimilarResult{ID: otherID, Score: score})
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if maxResults > 0 && len(results) > maxResults {
		results = results[:maxResults]
	}
	return results, nil
}

// PackageDependencies returns the packages that elements of pkg reach
// through call edges, excluding pkg itself.
func (ix *Index) PackageDependencies(pkg string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return sortedSet(ix.packageDeps[pkg])
}

// Size returns the number of indexed structures.
func (ix *Index) Size() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	keys, err := ix.structures.Keys()
	if err != nil {
		return 0
	}
	return len(keys)
}

// Commit flushes the backing store.
func (ix *Index) Commit() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.closed {
		return fmt.Errorf("structural index is closed")
	}
	return ix.structures.Commit()
}

// Close commits and releases the backing store.
func (ix *Index) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.closed {
		return nil
	}
	ix.closed = true
	return ix.structures.Close()
}

func (ix *Index) addEdges(st *symbol.Structure) {
	for target := range st.Calls {
		insert(ix.calledBy, target, st.ID)
		if fromPkg, toPkg := st.Package, symbol.PackageOf(target); fromPkg != "" && toPkg != "" && fromPkg != toPkg {
			insert(ix.packageDeps, fromPkg, toPkg)
		}
	}
	if st.SuperClass != "" {
		insert(ix.extendedBy, st.SuperClass, st.ID)
	}
	for target := range st.Implements {
		insert(ix.implementedBy, target, st.ID)
	}
	for target := range st.Overrides {
		insert(ix.overriddenBy, target, st.ID)
	}
	for target := range st.AccessesFields {
		insert(ix.fieldAccessedBy, target, st.ID)
	}
}

func (ix *Index) removeEdges(st *symbol.Structure) {
	for target := range st.Calls {
		retract(ix.calledBy, target, st.ID)
	}
	if st.SuperClass != "" {
		retract(ix.extendedBy, st.SuperClass, st.ID)
	}
	for target := range st.Implements {
		retract(ix.implementedBy, target, st.ID)
	}
	for target := range st.Overrides {
		retract(ix.overriddenBy, target, st.ID)
	}
	for target := range st.AccessesFields {
		retract(ix.fieldAccessedBy, target, st.ID)
	}
	// Package dependencies are rebuilt rather than reference-counted:
	// drop the package's edges, then re-derive from the remaining
	// elements of the same package. The element being retracted is still
	// in the store at this point, so it is excluded explicitly.
	ix.rebuildPackageDeps(st.Package, st.ID)
}

func (ix *Index) rebuildPackageDeps(pkg, excludeID string) {
	if pkg == "" {
		return
	}
	delete(ix.packageDeps, pkg)

	keys, err := ix.structures.Keys()
	if err != nil {
		ix.logger.Warn("package dependency rebuild skipped", slog.String("error", err.Error()))
		return
	}
	for _, id := range keys {
		if id == excludeID {
			continue
		}
		st, ok, err := ix.structures.Get(id)
		if err != nil || !ok || st.Package != pkg {
			continue
		}
		for target := range st.Calls {
			if toPkg := symbol.PackageOf(target); toPkg != "" && toPkg != pkg {
				insert(ix.packageDeps, pkg, toPkg)
			}
		}
	}
}

func (ix *Index) reverseSet(m map[string]map[string]struct{}, id string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return sortedSet(m[id])
}

func (ix *Index) forwardSet(id string, pick func(*symbol.Structure) map[string]struct{}) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	st, ok, err := ix.structures.Get(id)
	if err != nil || !ok {
		return nil
	}
	return sortedSet(pick(&st))
}

// similarity is the factor-averaged structural score. A factor counts
// only when it actually connects the two elements: same package, same
// superclass, or a non-empty overlap. The weighted sum is divided by the
// number of contributing factors, so two classes sharing only package and
// superclass score (0.2+0.3)/2.
func similarity(a, b *symbol.Structure) float64 {
	var score float64
	factors := 0

	if a.Package != "" && a.Package == b.Package {
		score += weightPackage
		factors++
	}
	if a.SuperClass != "" && a.SuperClass == b.SuperClass {
		score += weightSuperClass
		factors++
	}
	if f := overlap(a.Implements, b.Implements); f > 0 {
		score += weightInterfaces * f
		factors++
	}
	if f := overlap(a.Calls, b.Calls); f > 0 {
		score += weightCalls * f
		factors++
	}
	if f := overlap(a.AccessesFields, b.AccessesFields); f > 0 {
		score += weightFields * f
		factors++
	}

	if factors == 0 {
		return 0
	}
	return score / float64(factors)
}

// overlap returns |a ∩ b| / max(|a|, |b|), or 0 when both sets are empty.
func overlap(a, b map[string]struct{}) float64 {
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 0
	}

	common := 0
	for k := range a {
		if _, ok := b[k]; ok {
			common++
		}
	}
	return float64(common) / float64(maxLen)
}

func insert(m map[string]map[string]struct{}, target, source string) {
	set, ok := m[target]
	if !ok {
		set = make(map[string]struct{})
		m[target] = set
	}
	set[source] = struct{}{}
}

func retract(m map[string]map[string]struct{}, target, source string) {
	if set, ok := m[target]; ok {
		delete(set, source)
		if len(set) == 0 {
			delete(m, target)
		}
	}
}

func sortedSet(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
