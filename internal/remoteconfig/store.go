package remoteconfig

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/goccy/go-json"
)

// Add validation errors.
var (
	ErrMissingProduct = errors.New("remote config entry requires a product")
	ErrMissingID      = errors.New("remote config entry requires an id")
)

// NotFoundError reports a mutation against an id that is not in the store.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("remote config entry %q not found", e.ID)
}

// Store owns the set of distributable configuration entries and the global
// version counter. The counter is a logical clock over the whole store: it
// advances by exactly one on every mutation, regardless of how many entries
// are affected.
type Store struct {
	mu      sync.RWMutex
	orgID   int
	entries map[string]Entry
	version uint64
}

// Snapshot is an immutable view of the store for protocol negotiation.
// Entries are sorted by path. Callers must not mutate it.
type Snapshot struct {
	Entries []Entry
	Version uint64
}

// AddParams carries the caller-supplied fields for Add. Exactly one of
// Content and Config should be set; Config is serialized as JSON. Name and
// OrgID are optional: Name defaults to a hash of ID and OrgID to the store
// default.
type AddParams struct {
	ID      string
	Product string
	Name    string
	OrgID   int
	Content []byte
	Config  any
}

// NewStore creates an empty store. orgID is the default tenant identifier
// stamped on entries that do not specify one.
func NewStore(orgID int) *Store {
	return &Store{
		orgID:   orgID,
		entries: make(map[string]Entry),
	}
}

// Add inserts an entry, overwriting any existing entry with the same id.
func (s *Store) Add(p AddParams) (Entry, error) {
	if p.Product == "" {
		return Entry{}, ErrMissingProduct
	}
	if p.ID == "" {
		return Entry{}, ErrMissingID
	}

	content := p.Content
	if content == nil && p.Config != nil {
		raw, err := json.Marshal(p.Config)
		if err != nil {
			return Entry{}, fmt.Errorf("failed to serialize config for %q: %v", p.ID, err)
		}
		content = raw
	}

	orgID := p.OrgID
	if orgID == 0 {
		orgID = s.orgID
	}
	name := p.Name
	if name == "" {
		name = defaultName(p.ID)
	}

	hash := hashHex(content)
	entry := Entry{
		ID:          p.ID,
		OrgID:       orgID,
		Product:     p.Product,
		Name:        name,
		Path:        entryPath(orgID, p.Product, p.ID, name),
		Content:     content,
		ContentHash: hash,
		Meta: Meta{
			Revision: 1,
			SHA256:   hash,
			Length:   len(content),
		},
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[p.ID] = entry
	s.version++
	return entry, nil
}

// Update replaces the content of an existing entry, bumping its revision.
func (s *Store) Update(id string, content []byte) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return Entry{}, &NotFoundError{ID: id}
	}

	hash := hashHex(content)
	entry.Content = content
	entry.ContentHash = hash
	entry.Meta.Revision++
	entry.Meta.SHA256 = hash
	entry.Meta.Length = len(content)

	s.entries[id] = entry
	s.version++
	return entry, nil
}

// Remove deletes an entry by id. Removing an absent id is a no-op that
// still advances the version: clients treat any version bump as "something
// may have changed", and the emulated backend counts the intent.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	s.version++
}

// Reset clears all entries. The version keeps advancing.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]Entry)
	s.version++
}

// Len reports the number of entries currently in the store.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Version reports the current global version.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Snapshot returns an immutable copy of the current entries and version,
// sorted by path for stable ordering.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]Entry, 0, len(s.entries))
	for _, entry := range s.entries {
		entry.Content = append([]byte(nil), entry.Content...)
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Path < entries[j].Path
	})

	return Snapshot{Entries: entries, Version: s.version}
}
