package deadletter

import "fmt"

// Registry is the Task API's aggregate view across every consumer's dead
// letter store, keyed by consumer group name ("audit", "notify", "regen").
// A source with no configured DSN is simply absent from the registry; the
// admin surface reports it unavailable rather than failing startup.
type Registry struct {
	sources map[string]*Store
}

func NewRegistry() *Registry {
	return &Registry{sources: map[string]*Store{}}
}

func (r *Registry) Register(name string, store *Store) {
	r.sources[name] = store
}

func (r *Registry) Get(name string) (*Store, error) {
	s, ok := r.sources[name]
	if !ok {
		return nil, fmt.Errorf("unknown or unconfigured dead letter source %q", name)
	}
	return s, nil
}

// Names lists the configured sources, for the list-all-sources case.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.sources))
	for n := range r.sources {
		names = append(names, n)
	}
	return names
}
