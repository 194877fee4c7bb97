package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taleweaver/internal/ai"
	"taleweaver/internal/game"
	"taleweaver/internal/tasks"
)

func seedSession(t *testing.T, st *memStore) *game.Session {
	t.Helper()
	sess := &game.Session{
		ID:                "s1",
		Title:             "The Hollow Crown",
		LastPlayed:        time.Now(),
		Config:            game.SessionConfig{UniverseName: "Generic Village Tale", Language: "en"},
		PlayerCharacterID: "pc",
		CurrentLocationID: "loc",
		Characters: map[string]*game.Character{
			"pc":   {ID: "pc", Name: "Aria", IsPlayer: true, LocationID: "loc", State: game.StateIdle, Stats: game.Stats{HP: 100, MaxHP: 100, Gold: 10}, Relationships: map[string]int{}},
			"grix": {ID: "grix", Name: "Grix", LocationID: "loc", State: game.StateIdle, Stats: game.DefaultStats(), Relationships: map[string]int{}},
		},
		Locations: map[string]*game.Location{
			"loc": {ID: "loc", Name: "The Bridge"},
		},
	}
	require.NoError(t, st.Save(sess))
	return sess
}

func newTestEngine(t *testing.T, st *memStore, resolve func(ctx context.Context, snap *game.Session, input string, fate *ai.FateModifier) (*ai.TurnResult, error)) (*Engine, *tasks.Coordinator) {
	t.Helper()
	coord := tasks.NewCoordinator()
	eng, err := New(Deps{
		Store:       st,
		Classifier:  passthroughClassifier(),
		Resolver:    &mockResolver{resolve: resolve},
		Coordinator: coord,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		eng.CloseSession()
		coord.Wait()
	})
	return eng, coord
}

func TestSubmitTurn_EndToEnd(t *testing.T) {
	st := newMemStore()
	seedSession(t, st)

	eng, _ := newTestEngine(t, st, func(ctx context.Context, snap *game.Session, input string, fate *ai.FateModifier) (*ai.TurnResult, error) {
		assert.Equal(t, "attack the goblin", input)
		return &ai.TurnResult{
			Messages: []ai.ResolvedMessage{
				{Type: game.MessageNarration, Text: "Steel rings against the goblin's crude blade."},
				{Type: game.MessageDialogue, CharacterName: "Grix", Dialogue: "You'll regret that!", VoiceTone: "furious"},
				{Type: game.MessageDialogue, CharacterName: "Aria", Dialogue: "Take this!"},
			},
			Updates: ai.StateUpdates{
				UpdatedCharacters: []ai.CharacterUpdate{
					{ID: "grix", State: game.StateFighting, Stats: map[string]int{"hp": 80}},
				},
				EventLog: "Fought Grix at the bridge",
			},
		}, nil
	})
	sess, err := eng.OpenSession("s1")
	require.NoError(t, err)
	require.Equal(t, 0, sess.TurnCount)

	require.NoError(t, eng.SubmitTurn(context.Background(), "attack the goblin", nil))

	got := eng.Session()
	assert.Equal(t, 1, got.TurnCount)

	// Player action + narration + Grix's line; Aria's line is filtered.
	require.Len(t, got.Messages, 3)
	assert.Equal(t, "pc", got.Messages[0].SenderID)
	assert.Equal(t, "attack the goblin", got.Messages[0].Text)
	assert.Equal(t, game.MessageNarration, got.Messages[1].Type)
	assert.Equal(t, "grix", got.Messages[2].SenderID)
	for i, m := range got.Messages {
		assert.Equal(t, i+1, m.PageNumber, "pages are contiguous after sanitize")
	}

	assert.Equal(t, game.StateFighting, got.Characters["grix"].State)
	assert.Equal(t, 80, got.Characters["grix"].Stats.HP)
	require.Len(t, got.Events, 1)
	assert.Equal(t, "Fought Grix at the bridge", got.Events[0].Text)

	// The durable copy matches.
	persisted, err := st.Load("s1")
	require.NoError(t, err)
	assert.Equal(t, 1, persisted.TurnCount)
	assert.Len(t, persisted.Messages, 3)
}

func TestSubmitTurn_RejectsConcurrent(t *testing.T) {
	st := newMemStore()
	seedSession(t, st)

	var once sync.Once
	inResolve := make(chan struct{})
	release := make(chan struct{})
	eng, _ := newTestEngine(t, st, func(ctx context.Context, snap *game.Session, input string, fate *ai.FateModifier) (*ai.TurnResult, error) {
		once.Do(func() { close(inResolve) })
		<-release
		return &ai.TurnResult{Messages: []ai.ResolvedMessage{{Type: game.MessageNarration, Text: "done"}}}, nil
	})
	_, err := eng.OpenSession("s1")
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, eng.SubmitTurn(context.Background(), "first", nil))
	}()

	<-inResolve
	err = eng.SubmitTurn(context.Background(), "second", nil)
	assert.ErrorIs(t, err, ErrTurnInFlight)
	close(release)
	wg.Wait()

	// The flag clears once the turn settles.
	require.NoError(t, eng.SubmitTurn(context.Background(), "third", nil))
}

func TestSession_ReturnsDetachedCopy(t *testing.T) {
	st := newMemStore()
	seedSession(t, st)

	eng, _ := newTestEngine(t, st, nil)
	_, err := eng.OpenSession("s1")
	require.NoError(t, err)

	got := eng.Session()
	require.NotNil(t, got)
	got.Title = "scribbled over"
	got.Characters["pc"].Stats.HP = 1
	got.Messages = append(got.Messages, game.Message{ID: "rogue"})

	live := eng.Session()
	assert.Equal(t, "The Hollow Crown", live.Title)
	assert.Equal(t, 100, live.Characters["pc"].Stats.HP)
	assert.Empty(t, live.Messages)
}

func TestSubmitTurn_NoSession(t *testing.T) {
	eng, _ := newTestEngine(t, newMemStore(), nil)
	assert.ErrorIs(t, eng.SubmitTurn(context.Background(), "hello", nil), ErrNoSession)
}

func TestSubmitTurn_RecoverableErrorDegrades(t *testing.T) {
	st := newMemStore()
	seedSession(t, st)

	netErr := ai.Classify("resolve", errors.New("dial tcp: connection refused"))
	eng, _ := newTestEngine(t, st, func(ctx context.Context, snap *game.Session, input string, fate *ai.FateModifier) (*ai.TurnResult, error) {
		return nil, netErr
	})
	_, err := eng.OpenSession("s1")
	require.NoError(t, err)

	require.NoError(t, eng.SubmitTurn(context.Background(), "look around", nil), "recoverable failures end the turn cleanly")

	got := eng.Session()
	assert.Equal(t, 0, got.TurnCount, "a degraded turn does not count")
	require.Len(t, got.Messages, 2, "player message plus system notice")
	assert.Equal(t, game.MessageSystem, got.Messages[1].Type)
}

func TestSubmitTurn_RepeatedFailureNoticesAllSurvive(t *testing.T) {
	st := newMemStore()
	seedSession(t, st)

	netErr := ai.Classify("resolve", errors.New("dial tcp: connection refused"))
	eng, _ := newTestEngine(t, st, func(ctx context.Context, snap *game.Session, input string, fate *ai.FateModifier) (*ai.TurnResult, error) {
		return nil, netErr
	})
	_, err := eng.OpenSession("s1")
	require.NoError(t, err)

	// Two failed turns back to back land within the sanitizer's duplicate
	// window; each notice must still survive it.
	require.NoError(t, eng.SubmitTurn(context.Background(), "look around", nil))
	require.NoError(t, eng.SubmitTurn(context.Background(), "try the door", nil))

	got := eng.Session()
	require.Len(t, got.Messages, 4, "two player messages and two notices")
	first, second := got.Messages[1], got.Messages[3]
	assert.Equal(t, game.MessageSystem, first.Type)
	assert.Equal(t, game.MessageSystem, second.Type)
	assert.NotEqual(t, first.Text, second.Text, "notices must not collapse as duplicates")
}

func TestSubmitTurn_SaveFailureDoesNotAbortTurn(t *testing.T) {
	st := newMemStore()
	seedSession(t, st)

	eng, _ := newTestEngine(t, st, func(ctx context.Context, snap *game.Session, input string, fate *ai.FateModifier) (*ai.TurnResult, error) {
		return &ai.TurnResult{Messages: []ai.ResolvedMessage{{Type: game.MessageNarration, Text: "And so they " + input + "."}}}, nil
	})
	_, err := eng.OpenSession("s1")
	require.NoError(t, err)

	st.setFailSave(true)
	require.NoError(t, eng.SubmitTurn(context.Background(), "march on", nil), "persistence is best effort")

	got := eng.Session()
	assert.Equal(t, 1, got.TurnCount, "the in-memory session stays authoritative")
	require.Len(t, got.Messages, 2)

	// Once the store recovers, the next save carries the full record.
	st.setFailSave(false)
	require.NoError(t, eng.SubmitTurn(context.Background(), "keep going", nil))
	persisted, err := st.Load("s1")
	require.NoError(t, err)
	assert.Equal(t, 2, persisted.TurnCount)
	assert.Len(t, persisted.Messages, 4)
}

func TestOpenSession_RepairSaveFailureNonFatal(t *testing.T) {
	st := newMemStore()
	sess := seedSession(t, st)
	sess.Characters["pc"].Stats.Gold = -1
	require.NoError(t, st.Save(sess))

	st.setFailSave(true)
	eng, _ := newTestEngine(t, st, nil)
	got, err := eng.OpenSession("s1")
	require.NoError(t, err, "a failed repair save must not block opening")
	assert.Equal(t, 100, got.Characters["pc"].Stats.Gold, "the repair still applies in memory")
}

func TestSubmitTurn_TerminalErrorBlocks(t *testing.T) {
	st := newMemStore()
	seedSession(t, st)

	authErr := ai.Classify("resolve", errors.New("Error 401: API key not valid"))
	coord := tasks.NewCoordinator()
	var notes []Notification
	eng, err := New(Deps{
		Store:      st,
		Classifier: passthroughClassifier(),
		Resolver: &mockResolver{resolve: func(ctx context.Context, snap *game.Session, input string, fate *ai.FateModifier) (*ai.TurnResult, error) {
			return nil, authErr
		}},
		Coordinator: coord,
		Notify:      func(n Notification) { notes = append(notes, n) },
	})
	require.NoError(t, err)
	defer coord.Wait()
	defer eng.CloseSession()

	_, err = eng.OpenSession("s1")
	require.NoError(t, err)

	err = eng.SubmitTurn(context.Background(), "look around", nil)
	require.Error(t, err)
	require.Len(t, notes, 1)
	assert.True(t, notes[0].Blocking)
	assert.Equal(t, "Check your API credentials", notes[0].Title)
}

func TestSubmitTurn_CredentialGuard(t *testing.T) {
	st := newMemStore()
	seedSession(t, st)

	coord := tasks.NewCoordinator()
	eng, err := New(Deps{
		Store:      st,
		Classifier: passthroughClassifier(),
		Resolver: &mockResolver{resolve: func(ctx context.Context, snap *game.Session, input string, fate *ai.FateModifier) (*ai.TurnResult, error) {
			t.Fatal("resolution must not run with bad credentials")
			return nil, nil
		}},
		Credentials: &mockChecker{check: func(ctx context.Context) error {
			return ai.Classify("credentials", errors.New("quota exceeded, check billing"))
		}},
		Coordinator: coord,
	})
	require.NoError(t, err)
	defer coord.Wait()
	defer eng.CloseSession()

	_, err = eng.OpenSession("s1")
	require.NoError(t, err)
	require.Error(t, eng.SubmitTurn(context.Background(), "look", nil))
}

func TestBackgroundDigest_AppliedAndFlagCleared(t *testing.T) {
	st := newMemStore()
	seedSession(t, st)

	coord := tasks.NewCoordinator()
	eng, err := New(Deps{
		Store:      st,
		Classifier: passthroughClassifier(),
		Resolver: &mockResolver{resolve: func(ctx context.Context, snap *game.Session, input string, fate *ai.FateModifier) (*ai.TurnResult, error) {
			return &ai.TurnResult{Messages: []ai.ResolvedMessage{{Type: game.MessageNarration, Text: "onward"}}}, nil
		}},
		Memorist: &mockMemorist{update: func(ctx context.Context, snap *game.Session, last *ai.TurnResult) (ai.DigestUpdate, error) {
			return ai.DigestUpdate{ShouldUpdate: true, Digest: &game.HeavyContext{MainMission: "Find the crown"}}, nil
		}},
		Coordinator: coord,
	})
	require.NoError(t, err)
	defer eng.CloseSession()

	_, err = eng.OpenSession("s1")
	require.NoError(t, err)
	require.NoError(t, eng.SubmitTurn(context.Background(), "march on", nil))

	coord.Wait()
	assert.False(t, eng.ContextUpdating())
	require.NotNil(t, eng.Session().HeavyContext)
	assert.Equal(t, "Find the crown", eng.Session().HeavyContext.MainMission)
}

func TestBackgroundDigest_FlagHeldAcrossSkippedLaunch(t *testing.T) {
	st := newMemStore()
	seedSession(t, st)

	inDigest := make(chan struct{})
	release := make(chan struct{})
	coord := tasks.NewCoordinator()
	eng, err := New(Deps{
		Store:      st,
		Classifier: passthroughClassifier(),
		Resolver: &mockResolver{resolve: func(ctx context.Context, snap *game.Session, input string, fate *ai.FateModifier) (*ai.TurnResult, error) {
			return &ai.TurnResult{Messages: []ai.ResolvedMessage{{Type: game.MessageNarration, Text: "onward"}}}, nil
		}},
		Memorist: &mockMemorist{update: func(ctx context.Context, snap *game.Session, last *ai.TurnResult) (ai.DigestUpdate, error) {
			close(inDigest)
			<-release
			return ai.DigestUpdate{ShouldUpdate: true, Digest: &game.HeavyContext{MainMission: "slow burn"}}, nil
		}},
		Coordinator: coord,
	})
	require.NoError(t, err)
	defer eng.CloseSession()

	_, err = eng.OpenSession("s1")
	require.NoError(t, err)
	require.NoError(t, eng.SubmitTurn(context.Background(), "march on", nil))

	<-inDigest
	assert.True(t, eng.ContextUpdating())

	// The next turn's digest launch is skipped because the key is busy;
	// the flag must keep reporting the still-running job.
	require.NoError(t, eng.SubmitTurn(context.Background(), "press forward", nil))
	assert.True(t, eng.ContextUpdating(), "skipped launch must not hide the in-flight digest")

	close(release)
	coord.Wait()
	assert.False(t, eng.ContextUpdating())
	require.NotNil(t, eng.Session().HeavyContext)
	assert.Equal(t, "slow burn", eng.Session().HeavyContext.MainMission)
}

func TestBackgroundDigest_StaleResultDropped(t *testing.T) {
	st := newMemStore()
	first := seedSession(t, st)
	second := seedSession(t, st)
	second.ID = "s2"
	require.NoError(t, st.Save(second))

	inDigest := make(chan struct{})
	release := make(chan struct{})
	coord := tasks.NewCoordinator()
	eng, err := New(Deps{
		Store:      st,
		Classifier: passthroughClassifier(),
		Resolver: &mockResolver{resolve: func(ctx context.Context, snap *game.Session, input string, fate *ai.FateModifier) (*ai.TurnResult, error) {
			return &ai.TurnResult{Messages: []ai.ResolvedMessage{{Type: game.MessageNarration, Text: "onward"}}}, nil
		}},
		Memorist: &mockMemorist{update: func(ctx context.Context, snap *game.Session, last *ai.TurnResult) (ai.DigestUpdate, error) {
			close(inDigest)
			<-release
			return ai.DigestUpdate{ShouldUpdate: true, Digest: &game.HeavyContext{MainMission: "stale"}}, nil
		}},
		Coordinator: coord,
	})
	require.NoError(t, err)
	defer eng.CloseSession()

	_, err = eng.OpenSession(first.ID)
	require.NoError(t, err)
	require.NoError(t, eng.SubmitTurn(context.Background(), "march on", nil))

	// Switch sessions while the digest call is still in flight.
	<-inDigest
	_, err = eng.OpenSession("s2")
	require.NoError(t, err)
	close(release)
	coord.Wait()

	assert.Nil(t, eng.Session().HeavyContext, "late digest for the old session must not land on the new one")
	old, err := st.Load(first.ID)
	require.NoError(t, err)
	assert.Nil(t, old.HeavyContext, "nor on the durable copy of the old one")
}

func TestOpenSession_MigratesLegacyRecord(t *testing.T) {
	st := newMemStore()
	sess := seedSession(t, st)
	sess.Characters["pc"].Stats.Gold = -1
	sess.Characters["pc"].Inventory = []game.Item{{Name: "rusty sword", Legacy: true}}
	require.NoError(t, st.Save(sess))

	eng, _ := newTestEngine(t, st, nil)
	got, err := eng.OpenSession("s1")
	require.NoError(t, err)

	assert.Equal(t, 100, got.Characters["pc"].Stats.Gold, "default fantasy bracket")
	require.Len(t, got.Characters["pc"].Inventory, 1)
	assert.Equal(t, "weapon", got.Characters["pc"].Inventory[0].Category)
}

func TestOpenSession_RejectsInvalid(t *testing.T) {
	st := newMemStore()
	sess := seedSession(t, st)
	sess.Characters["pc"].IsPlayer = false
	require.NoError(t, st.Save(sess))

	eng, _ := newTestEngine(t, st, nil)
	_, err := eng.OpenSession("s1")
	assert.ErrorIs(t, err, game.ErrNoPlayer)
}
