package repository

import (
	"context"
	"sync"
	"time"

	"github.com/Shivanand-hulikatti/ticket-checkin/internal/model"
)

type memoryState struct {
	capacity      *model.Capacity
	identifiers   []model.Identifier // ascending Seq
	byValue       map[string]int
	nextSeq       int64
	registrations []model.Registration // creation order
	byRecordID    map[string]int
	byIdentifier  map[string]int
}

func newMemoryState() *memoryState {
	return &memoryState{
		byValue:      make(map[string]int),
		nextSeq:      1,
		byRecordID:   make(map[string]int),
		byIdentifier: make(map[string]int),
	}
}

func (s *memoryState) clone() *memoryState {
	out := &memoryState{
		identifiers:   append([]model.Identifier(nil), s.identifiers...),
		byValue:       make(map[string]int, len(s.byValue)),
		nextSeq:       s.nextSeq,
		registrations: append([]model.Registration(nil), s.registrations...),
		byRecordID:    make(map[string]int, len(s.byRecordID)),
		byIdentifier:  make(map[string]int, len(s.byIdentifier)),
	}
	if s.capacity != nil {
		c := *s.capacity
		out.capacity = &c
	}
	for k, v := range s.byValue {
		out.byValue[k] = v
	}
	for k, v := range s.byRecordID {
		out.byRecordID[k] = v
	}
	for k, v := range s.byIdentifier {
		out.byIdentifier[k] = v
	}
	return out
}

type memoryBackend struct {
	mu    sync.RWMutex
	state *memoryState
}

// NewMemoryStore returns a Store that keeps everything in process memory.
// Writers are serialised by a mutex; a failed unit of work leaves no trace.
func NewMemoryStore() *Store {
	return &Store{backend: &memoryBackend{state: newMemoryState()}, name: "memory"}
}

func (b *memoryBackend) update(ctx context.Context, fn func(txn) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	work := b.state.clone()
	if err := fn(&memoryTxn{s: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	b.state = work
	return nil
}

func (b *memoryBackend) view(ctx context.Context, fn func(txn) error) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return fn(&memoryTxn{s: b.state})
}

func (b *memoryBackend) close() error { return nil }

type memoryTxn struct {
	s *memoryState
}

func (t *memoryTxn) loadCapacity(context.Context) (model.Capacity, error) {
	if t.s.capacity == nil {
		return model.Capacity{}, ErrNotFound
	}
	return *t.s.capacity, nil
}

func (t *memoryTxn) storeCapacity(_ context.Context, c model.Capacity) error {
	t.s.capacity = &c
	return nil
}

func (t *memoryTxn) firstUnassigned(context.Context) (model.Identifier, error) {
	for _, id := range t.s.identifiers {
		if !id.Assigned {
			return id, nil
		}
	}
	return model.Identifier{}, ErrNotFound
}

func (t *memoryTxn) identifier(_ context.Context, value string) (model.Identifier, error) {
	i, ok := t.s.byValue[value]
	if !ok {
		return model.Identifier{}, ErrNotFound
	}
	return t.s.identifiers[i], nil
}

func (t *memoryTxn) insertIdentifier(_ context.Context, value string, createdAt time.Time) (model.Identifier, bool, error) {
	if _, exists := t.s.byValue[value]; exists {
		return model.Identifier{}, false, nil
	}
	id := model.Identifier{Value: value, Seq: t.s.nextSeq, CreatedAt: createdAt}
	t.s.nextSeq++
	t.s.byValue[value] = len(t.s.identifiers)
	t.s.identifiers = append(t.s.identifiers, id)
	return id, true, nil
}

func (t *memoryTxn) bindIdentifier(_ context.Context, value, recordID string, at time.Time) (bool, error) {
	i, ok := t.s.byValue[value]
	if !ok || t.s.identifiers[i].Assigned {
		return false, nil
	}
	id := t.s.identifiers[i]
	id.Assigned = true
	id.BoundRecordID = recordID
	id.AssignedAt = &at
	t.s.identifiers[i] = id
	return true, nil
}

func (t *memoryTxn) countIdentifiers(context.Context) (model.PoolStats, error) {
	stats := model.PoolStats{Total: len(t.s.identifiers)}
	for _, id := range t.s.identifiers {
		if id.Assigned {
			stats.Assigned++
		}
	}
	stats.Available = stats.Total - stats.Assigned
	return stats, nil
}

func (t *memoryTxn) listIdentifiers(_ context.Context, f IdentifierFilter) ([]model.Identifier, error) {
	var out []model.Identifier
	for _, id := range t.s.identifiers {
		if f.Assigned != nil && id.Assigned != *f.Assigned {
			continue
		}
		out = append(out, id)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (t *memoryTxn) insertRegistration(_ context.Context, r model.Registration) (bool, error) {
	if _, exists := t.s.byRecordID[r.RecordID]; exists {
		return false, nil
	}
	if _, exists := t.s.byIdentifier[r.Identifier]; exists {
		return false, nil
	}
	i := len(t.s.registrations)
	t.s.registrations = append(t.s.registrations, r)
	t.s.byRecordID[r.RecordID] = i
	t.s.byIdentifier[r.Identifier] = i
	return true, nil
}

func (t *memoryTxn) registration(_ context.Context, key lookupKey, value string) (model.Registration, error) {
	index := t.s.byRecordID
	if key == byIdentifier {
		index = t.s.byIdentifier
	}
	i, ok := index[value]
	if !ok {
		return model.Registration{}, ErrNotFound
	}
	return t.s.registrations[i], nil
}

func (t *memoryTxn) setCheckedIn(_ context.Context, recordID string, at time.Time) (bool, error) {
	i, ok := t.s.byRecordID[recordID]
	if !ok || t.s.registrations[i].CheckedIn {
		return false, nil
	}
	r := t.s.registrations[i]
	r.CheckedIn = true
	r.CheckedInAt = &at
	t.s.registrations[i] = r
	return true, nil
}

func (t *memoryTxn) countRegistrations(context.Context) (model.RegistrationStats, error) {
	stats := model.RegistrationStats{Total: len(t.s.registrations)}
	for _, r := range t.s.registrations {
		if r.CheckedIn {
			stats.CheckedIn++
		}
	}
	stats.Pending = stats.Total - stats.CheckedIn
	return stats, nil
}

func (t *memoryTxn) listRegistrations(context.Context) ([]model.Registration, error) {
	return append([]model.Registration(nil), t.s.registrations...), nil
}
