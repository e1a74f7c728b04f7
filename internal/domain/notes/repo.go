package notes

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/claimsense/claimsense/internal/platform/jsonstore"
)

// Store persists notes in a JSON collection.
type Store struct {
	c *jsonstore.Collection[Note]
}

// OpenStore loads the note collection at path.
func OpenStore(path string, logger zerolog.Logger) (*Store, error) {
	c, err := jsonstore.Open[Note](path, jsonstore.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("open notes: %w", err)
	}
	return &Store{c: c}, nil
}

func (s *Store) Create(n Note) error {
	if err := s.c.Insert(n); err != nil {
		return fmt.Errorf("create note %s: %w", n.ID, err)
	}
	return nil
}

func (s *Store) Get(id string) (Note, error) {
	n, err := s.c.Get(id)
	if err != nil {
		return Note{}, fmt.Errorf("note %s: %w", id, err)
	}
	return n, nil
}

// List returns every note, newest upload first.
func (s *Store) List() []Note {
	return s.c.List()
}

// Update applies fn to the stored note and persists the result.
func (s *Store) Update(id string, fn func(*Note)) (Note, error) {
	n, err := s.c.Update(id, func(n *Note) error {
		fn(n)
		return nil
	})
	if err != nil {
		return Note{}, fmt.Errorf("update note %s: %w", id, err)
	}
	return n, nil
}

// Unfinished returns the pending and processing notes, oldest upload first.
func (s *Store) Unfinished() []Note {
	all := s.c.List()
	out := make([]Note, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		if !all[i].Status.Terminal() {
			out = append(out, all[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UploadedAt.Before(out[j].UploadedAt)
	})
	return out
}
