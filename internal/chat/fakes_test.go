package chat

import (
	"context"
	"strconv"
	"sync"

	"github.com/Wachitugo/ConvivenciaLaboral-sub001/internal/agent"
	"github.com/Wachitugo/ConvivenciaLaboral-sub001/internal/cases"
	"github.com/Wachitugo/ConvivenciaLaboral-sub001/internal/history"
	"github.com/Wachitugo/ConvivenciaLaboral-sub001/internal/intent"
	"github.com/Wachitugo/ConvivenciaLaboral-sub001/internal/metering"
	"github.com/Wachitugo/ConvivenciaLaboral-sub001/internal/tenant"
)

type storedMessage struct {
	role        string
	content     string
	attachments []history.FileRef
}

type memSessions struct {
	mu       sync.Mutex
	sessions map[string]Session
	messages map[string][]storedMessage
	titles   map[string]string
	nextID   int
}

func newMemSessions() *memSessions {
	return &memSessions{
		sessions: make(map[string]Session),
		messages: make(map[string][]storedMessage),
		titles:   make(map[string]string),
	}
}

func (m *memSessions) CreateSession(_ context.Context, orgID, userID, caseID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := "sess-" + strconv.Itoa(m.nextID)
	m.sessions[id] = Session{ID: id, OrganizationID: orgID, UserID: userID, CaseID: caseID}
	return id, nil
}

func (m *memSessions) GetSession(ctx context.Context, sessionID string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || s.OrganizationID != tenant.OrganizationID(ctx) {
		return Session{}, ErrSessionNotFound
	}
	return s, nil
}

func (m *memSessions) GetRecentMessages(_ context.Context, sessionID string, limit int) ([]history.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := m.messages[sessionID]
	if len(stored) > limit {
		stored = stored[len(stored)-limit:]
	}
	out := make([]history.Message, 0, len(stored))
	for _, s := range stored {
		out = append(out, history.Message{Role: s.role, Content: s.content, Attachments: s.attachments})
	}
	return out, nil
}

func (m *memSessions) AddMessage(_ context.Context, sessionID, role, content string, attachments []history.FileRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return ErrSessionNotFound
	}
	m.messages[sessionID] = append(m.messages[sessionID], storedMessage{role, content, attachments})
	return nil
}

func (m *memSessions) UpdateTitle(_ context.Context, sessionID, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.titles[sessionID] = title
	return nil
}

type fakeCases struct {
	cases map[string]*cases.Case
}

func (f *fakeCases) GetCase(_ context.Context, id string) (*cases.Case, error) {
	c, ok := f.cases[id]
	if !ok {
		return nil, cases.ErrCaseNotFound
	}
	return c, nil
}

type fakeIndexes struct {
	index string
	err   error
}

func (f fakeIndexes) RetrievalIndex(context.Context, string) (string, error) {
	return f.index, f.err
}

type fakeClassifier struct {
	result intent.Classification
	err    error
	hint   string
	calls  int
}

func (f *fakeClassifier) Classify(_ context.Context, _ string, hint string) (intent.Classification, error) {
	f.calls++
	f.hint = hint
	return f.result, f.err
}

// fakeLimits applies the ledger's strict input rule against inputLimit when
// it is set.
type fakeLimits struct {
	err        error
	ownerID    string
	inputLimit int64
	estimates  []int64
}

func (f *fakeLimits) CheckLimits(_ context.Context, ownerID string, estimatedInput int64) error {
	f.ownerID = ownerID
	f.estimates = append(f.estimates, estimatedInput)
	if f.err != nil {
		return f.err
	}
	if f.inputLimit > 0 && estimatedInput > f.inputLimit {
		return &metering.LimitExceeded{
			Scope:   metering.ScopeUserInput,
			OwnerID: ownerID,
			Limit:   f.inputLimit,
			Current: estimatedInput,
			Message: "límite de entrada alcanzado",
		}
	}
	return nil
}

type fakeRunner struct {
	result   agent.Result
	err      error
	calls    int
	req      agent.Request
	tc       tenant.Context
	estimate int64
}

func (f *fakeRunner) EstimateInput(context.Context, agent.Request) int64 {
	return f.estimate
}

func (f *fakeRunner) Run(ctx context.Context, req agent.Request) (agent.Result, error) {
	f.calls++
	f.req = req
	f.tc = tenant.Current(ctx)
	return f.result, f.err
}
