package dynamo

import "sync"

// Table binds a document kind to the DynamoDB table that stores it.
type Table struct {
	// Kind is the document kind (e.g., "Invoice").
	Kind string

	// Name is the DynamoDB table name (e.g., "invoices").
	Name string
}

// Registry maps kinds to tables. Kinds that are not registered fall back
// to the configured table prefix followed by the kind.
type Registry struct {
	mu     sync.RWMutex
	tables []Table
	byKind map[string]string
	byName map[string]string
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		tables: []Table{},
		byKind: make(map[string]string),
		byName: make(map[string]string),
	}
}

// Register adds a kind to table binding. Registering a kind again
// replaces its table.
func (r *Registry) Register(t Table) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.byKind[t.Kind]; ok {
		delete(r.byName, old)
		for i := range r.tables {
			if r.tables[i].Kind == t.Kind {
				r.tables[i] = t
			}
		}
	} else {
		r.tables = append(r.tables, t)
	}
	r.byKind[t.Kind] = t.Name
	r.byName[t.Name] = t.Kind
}

// TableFor returns the table registered for kind.
func (r *Registry) TableFor(kind string) (string, bool) {
	if r == nil {
		return "", false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.byKind[kind]
	return name, ok
}

// KindFor returns the kind registered for a table name.
func (r *Registry) KindFor(table string) (string, bool) {
	if r == nil {
		return "", false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	kind, ok := r.byName[table]
	return kind, ok
}

// Tables returns all registered bindings.
func (r *Registry) Tables() []Table {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Table, len(r.tables))
	copy(out, r.tables)
	return out
}
