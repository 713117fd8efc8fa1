package protocol

import (
	"context"
	"errors"
	"sync"

	"github.com/Wachitugo/ConvivenciaLaboral-sub001/internal/cases"
)

// memStore holds its mutex for the whole UpdateProtocol call, the way a row
// lock would.
type memStore struct {
	mu       sync.Mutex
	items    map[string]*Instance
	saves    int
	getErr   error
	saveErr  error
	saveCtxs []context.Context
	// onLocked runs after the lock is taken and before the row is read.
	onLocked func()
}

func newMemStore() *memStore {
	return &memStore{items: make(map[string]*Instance)}
}

func (m *memStore) GetProtocol(_ context.Context, caseID string) (*Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	inst, ok := m.items[caseID]
	if !ok {
		return nil, ErrProtocolNotFound
	}
	return inst.Clone(), nil
}

func (m *memStore) UpdateProtocol(ctx context.Context, caseID string, fn UpdateFunc) (*Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.onLocked != nil {
		m.onLocked()
	}
	if m.getErr != nil {
		return nil, m.getErr
	}
	var current *Instance
	if inst, ok := m.items[caseID]; ok {
		current = inst.Clone()
	}
	next, err := fn(current)
	if err != nil {
		return nil, err
	}
	if next == nil {
		return current, nil
	}
	m.saveCtxs = append(m.saveCtxs, ctx)
	if m.saveErr != nil {
		return nil, m.saveErr
	}
	m.saves++
	m.items[caseID] = next.Clone()
	return next, nil
}

func (m *memStore) put(inst *Instance) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[inst.CaseID] = inst.Clone()
}

type caseRecorder struct {
	updates map[string]cases.Update
	err     error
}

func (c *caseRecorder) UpdateCase(_ context.Context, id string, update cases.Update) error {
	if c.updates == nil {
		c.updates = make(map[string]cases.Update)
	}
	c.updates[id] = update
	return c.err
}

var errBackend = errors.New("backend down")
