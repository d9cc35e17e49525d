package checkpoint

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for development and testing. It
// honors the same append-only and ordering contract as the durable
// backends.
type MemoryStore struct {
	mu          sync.RWMutex
	checkpoints map[uuid.UUID]*Checkpoint
	bySession   map[uuid.UUID][]uuid.UUID
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		checkpoints: make(map[uuid.UUID]*Checkpoint),
		bySession:   make(map[uuid.UUID][]uuid.UUID),
	}
}

// Save implements Store.
func (s *MemoryStore) Save(ctx context.Context, cp *Checkpoint) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if latest := s.latestLocked(cp.SessionID); latest != nil && cp.TurnCounter < latest.TurnCounter {
		return uuid.Nil, ErrOutOfOrderCheckpoint
	}

	stored := *cp
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}

	s.checkpoints[stored.ID] = &stored
	s.bySession[stored.SessionID] = append(s.bySession[stored.SessionID], stored.ID)
	return stored.ID, nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp, ok := s.checkpoints[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *cp
	return &clone, nil
}

// GetLatest implements Store.
func (s *MemoryStore) GetLatest(ctx context.Context, sessionID uuid.UUID) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	latest := s.latestLocked(sessionID)
	if latest == nil {
		return nil, ErrNoCheckpoint
	}
	clone := *latest
	return &clone, nil
}

// latestLocked returns the session checkpoint with the highest turn
// counter, breaking ties by creation time.
func (s *MemoryStore) latestLocked(sessionID uuid.UUID) *Checkpoint {
	var latest *Checkpoint
	for _, id := range s.bySession[sessionID] {
		cp := s.checkpoints[id]
		if cp == nil {
			continue
		}
		if latest == nil || cp.TurnCounter > latest.TurnCounter ||
			(cp.TurnCounter == latest.TurnCounter && cp.CreatedAt.After(latest.CreatedAt)) {
			latest = cp
		}
	}
	return latest
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(id)
	return nil
}

func (s *MemoryStore) deleteLocked(id uuid.UUID) {
	cp, ok := s.checkpoints[id]
	if !ok {
		return
	}
	delete(s.checkpoints, id)

	ids := s.bySession[cp.SessionID]
	for i, candidate := range ids {
		if candidate == id {
			s.bySession[cp.SessionID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
}

// ListBySession implements Store.
func (s *MemoryStore) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*Checkpoint, 0, len(s.bySession[sessionID]))
	for _, id := range s.bySession[sessionID] {
		if cp := s.checkpoints[id]; cp != nil {
			clone := *cp
			list = append(list, &clone)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].TurnCounter > list[j].TurnCounter
	})
	return list, nil
}

// Sweep implements Store.
func (s *MemoryStore) Sweep(ctx context.Context, policy RetentionPolicy) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-policy.TTL)
	removed := 0

	for sessionID := range s.bySession {
		ids := append([]uuid.UUID(nil), s.bySession[sessionID]...)
		list := make([]*Checkpoint, 0, len(ids))
		for _, id := range ids {
			if cp := s.checkpoints[id]; cp != nil {
				list = append(list, cp)
			}
		}
		sort.Slice(list, func(i, j int) bool {
			return list[i].TurnCounter > list[j].TurnCounter
		})

		for i, cp := range list {
			if i < policy.MaxPerSession {
				continue
			}
			if cp.Milestone {
				continue
			}
			if policy.TTL > 0 && cp.CreatedAt.After(cutoff) {
				continue
			}
			s.deleteLocked(cp.ID)
			removed++
		}
	}

	return removed, nil
}
