package loader

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// Registry maps token names (labels, relationship types, property keys) to
// dense int32 ids handed out in creation order.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]int32
	names  []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]int32)}
}

// GetOrCreate returns the id of name, assigning the next id on first use.
func (r *Registry) GetOrCreate(name string) int32 {
	r.mu.RLock()
	id, ok := r.byName[name]
	r.mu.RUnlock()
	if ok {
		return id
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byName[name]; ok {
		return id
	}
	id = int32(len(r.names))
	r.byName[name] = id
	r.names = append(r.names, name)
	return id
}

// ID returns the id of name.
func (r *Registry) ID(name string) (int32, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[name]
	return id, ok
}

// Name returns the name registered for id.
func (r *Registry) Name(id int32) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id < 0 || int(id) >= len(r.names) {
		return "", false
	}
	return r.names[id], true
}

// Names returns every name, indexed by id.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.names...)
}

// Len returns the number of registered tokens.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.names)
}

func (r *Registry) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Names())
}

func (r *Registry) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName = make(map[string]int32, len(names))
	r.names = names
	for i, n := range names {
		r.byName[n] = int32(i)
	}
	return nil
}

// Tokens groups the three token registries of a database.
type Tokens struct {
	Labels            *Registry `json:"labels"`
	RelationshipTypes *Registry `json:"relationshipTypes"`
	PropertyKeys      *Registry `json:"propertyKeys"`
}

// NewTokens creates empty registries.
func NewTokens() *Tokens {
	return &Tokens{
		Labels:            NewRegistry(),
		RelationshipTypes: NewRegistry(),
		PropertyKeys:      NewRegistry(),
	}
}

// TokenFile is the name of the token file kept next to the record data.
const TokenFile = "tokens.json"

// SaveTokens writes t to path as JSON.
func SaveTokens(t *Tokens, path string) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding tokens: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing tokens: %w", err)
	}
	return nil
}

// LoadTokens reads a token file written by SaveTokens. A missing file yields
// empty registries.
func LoadTokens(path string) (*Tokens, error) {
	t := NewTokens()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return t, nil
		}
		return nil, fmt.Errorf("reading tokens: %w", err)
	}
	if err := json.Unmarshal(data, t); err != nil {
		return nil, fmt.Errorf("decoding tokens: %w", err)
	}
	return t, nil
}
