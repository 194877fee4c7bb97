package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"taleweaver/internal/ai"
	"taleweaver/internal/game"
	"taleweaver/internal/store"
)

// Function-field mocks for the collaborator interfaces. Tests set only the
// fields they exercise; a nil field panics, which is the failure we want.

type mockClassifier struct {
	classify func(ctx context.Context, snap *game.Session, raw string) (ai.Classification, error)
}

func (m *mockClassifier) Classify(ctx context.Context, snap *game.Session, raw string) (ai.Classification, error) {
	return m.classify(ctx, snap, raw)
}

type mockResolver struct {
	resolve func(ctx context.Context, snap *game.Session, input string, fate *ai.FateModifier) (*ai.TurnResult, error)
}

func (m *mockResolver) ResolveTurn(ctx context.Context, snap *game.Session, input string, fate *ai.FateModifier) (*ai.TurnResult, error) {
	return m.resolve(ctx, snap, input, fate)
}

type mockMemorist struct {
	update func(ctx context.Context, snap *game.Session, last *ai.TurnResult) (ai.DigestUpdate, error)
}

func (m *mockMemorist) UpdateDigest(ctx context.Context, snap *game.Session, last *ai.TurnResult) (ai.DigestUpdate, error) {
	return m.update(ctx, snap, last)
}

type mockChecker struct {
	check func(ctx context.Context) error
}

func (m *mockChecker) CheckCredentials(ctx context.Context) error {
	return m.check(ctx)
}

// passthroughClassifier treats every input as a verbatim action.
func passthroughClassifier() *mockClassifier {
	return &mockClassifier{
		classify: func(ctx context.Context, snap *game.Session, raw string) (ai.Classification, error) {
			return ai.Classification{Kind: ai.InputAction, ProcessedText: raw, ShouldProcess: true}, nil
		},
	}
}

// memStore is an in-memory store.Gateway storing deep copies, the way the
// SQLite store round-trips through JSON.
type memStore struct {
	mu       sync.Mutex
	sessions map[string][]byte
	saves    int
	failSave bool
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[string][]byte)}
}

func (m *memStore) Save(s *game.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSave {
		return errors.New("database disk image is malformed")
	}
	m.sessions[s.ID] = data
	m.saves++
	return nil
}

func (m *memStore) Load(id string) (*game.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	var s game.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (m *memStore) setFailSave(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failSave = fail
}

func (m *memStore) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *memStore) LoadAll() ([]game.SessionSummary, error) { return nil, nil }
func (m *memStore) Delete(id string) error                  { return nil }
func (m *memStore) Export(id string) (*store.PortableRecord, error) {
	return nil, store.ErrNotFound
}
func (m *memStore) Import(r *store.PortableRecord) (string, error) { return "", nil }
func (m *memStore) ValidateImport(r *store.PortableRecord) store.ImportCheck {
	return store.ImportCheck{}
}
func (m *memStore) LoadOptions(id string) (*game.CachedActionOptions, error) { return nil, nil }
func (m *memStore) SaveOptions(o *game.CachedActionOptions) error            { return nil }
