package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"papelflow/internal/core"
	ports "papelflow/internal/sheets"
)

// Store is an in-process spreadsheet mirror for local runs and tests.
type Store struct {
	mu   sync.Mutex
	rows []ports.Row
	seq  int
	refs map[string]string
}

var _ ports.Mirror = (*Store)(nil)

func New() *Store {
	return &Store{refs: make(map[string]string)}
}

// Append stores the row and returns a synthetic row reference.
func (s *Store) Append(_ context.Context, r ports.Row) (string, error) {
	if r.TransactionID == "" {
		return "", errors.New("row needs a transaction id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ref, ok := s.refs[r.TransactionID]; ok {
		return ref, nil
	}
	s.seq++
	ref := fmt.Sprintf("mem:%d", s.seq)
	s.rows = append(s.rows, r)
	s.refs[r.TransactionID] = ref
	return ref, nil
}

func (s *Store) Remove(_ context.Context, r ports.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.rows {
		if existing.TransactionID == r.TransactionID {
			s.rows = append(s.rows[:i], s.rows[i+1:]...)
			delete(s.refs, r.TransactionID)
			return nil
		}
	}
	return nil
}

func (s *Store) ListMonth(_ context.Context, m core.Month) ([]ports.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ports.Row
	for _, r := range s.rows {
		if m.Contains(r.Date) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// Len reports how many rows are mirrored.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}
