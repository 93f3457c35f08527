package domain

import (
	"fmt"
	"log/slog"
	"sort"

	m "covtrace.dev/pkg/covtrace/internal/model"
)

// BackendCreator describes one backend to the registry.
type BackendCreator struct {
	Name string
	// MatchFile scores the executable; MatchNone rules the backend out.
	MatchFile func(path m.Path, header []byte) uint
	Create    func() Backend
}

// Registry holds backends in registration order.
type Registry struct {
	creators []BackendCreator
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a backend. Registration order breaks score ties.
func (r *Registry) Register(creator BackendCreator) error {
	if creator.Name == "" || creator.MatchFile == nil || creator.Create == nil {
		return fmt.Errorf("incomplete backend creator %q", creator.Name)
	}

	for _, existing := range r.creators {
		if existing.Name == creator.Name {
			return fmt.Errorf("backend %q registered twice", creator.Name)
		}
	}

	r.creators = append(r.creators, creator)

	return nil
}

// Names lists registered backends in registration order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.creators))
	for _, c := range r.creators {
		names = append(names, c.Name)
	}

	return names
}

// Candidates returns every backend that matches the executable, best score
// first. Equal scores keep registration order.
func (r *Registry) Candidates(path m.Path, header []byte) []BackendCreator {
	type scored struct {
		creator BackendCreator
		score   uint
	}

	matches := make([]scored, 0, len(r.creators))

	for _, c := range r.creators {
		score := c.MatchFile(path, header)
		slog.Debug("Scored backend", "backend", c.Name, "path", path, "score", score)

		if score == MatchNone {
			continue
		}

		matches = append(matches, scored{creator: c, score: score})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].score > matches[j].score
	})

	out := make([]BackendCreator, 0, len(matches))
	for _, s := range matches {
		out = append(out, s.creator)
	}

	return out
}

// Lookup returns the named backend.
func (r *Registry) Lookup(name string) (BackendCreator, bool) {
	for _, c := range r.creators {
		if c.Name == name {
			return c, true
		}
	}

	return BackendCreator{}, false
}
