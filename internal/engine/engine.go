// Package engine owns the live session and sequences every turn's side
// effects: input classification, narrative resolution, delta application,
// the player-agency filter, timeline sanitation, persistence and the
// background jobs that trail each turn.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"taleweaver/internal/ai"
	"taleweaver/internal/game"
	"taleweaver/internal/logging"
	"taleweaver/internal/migrate"
	"taleweaver/internal/store"
	"taleweaver/internal/tasks"
	"taleweaver/internal/timeline"
)

var (
	// ErrNoSession is returned when a turn is submitted with no session open.
	ErrNoSession = errors.New("no active session")

	// ErrTurnInFlight is returned when a turn is submitted while another is
	// still processing. Turns are rejected, never queued.
	ErrTurnInFlight = errors.New("a turn is already being processed")
)

// Notification is a user-facing notice the engine emits outside the
// timeline. Blocking notifications must be acknowledged before play can
// continue; non-blocking ones are informational.
type Notification struct {
	Blocking bool
	Title    string
	Body     string
}

// Deps are the collaborators and infrastructure the engine is wired with.
type Deps struct {
	Store        store.Gateway
	Classifier   ai.Classifier
	Resolver     ai.Resolver
	Memorist     ai.Memorist
	Cartographer ai.Cartographer
	Illustrator  ai.Illustrator
	Credentials  ai.CredentialChecker
	Coordinator  *tasks.Coordinator

	// Notify receives engine notifications. Optional; nil drops them.
	Notify func(Notification)
}

// Engine is the turn orchestrator. One engine serves one open session at a
// time; opening another session cancels the previous session's background
// work and drops its late results.
type Engine struct {
	deps Deps

	mu         sync.Mutex
	session    *game.Session
	generation int64
	bgCtx      context.Context
	bgCancel   context.CancelFunc

	processing atomic.Bool

	credsOnce sync.Once
	credsErr  error
}

// New wires an engine. Store, Classifier and Resolver are required; the
// remaining collaborators degrade to no-ops when nil.
func New(deps Deps) (*Engine, error) {
	if deps.Store == nil || deps.Classifier == nil || deps.Resolver == nil {
		return nil, fmt.Errorf("engine requires a store, a classifier and a resolver")
	}
	if deps.Coordinator == nil {
		deps.Coordinator = tasks.NewCoordinator()
	}
	return &Engine{deps: deps}, nil
}

// =============================================================================
// SESSION LIFECYCLE
// =============================================================================

// OpenSession loads a session and prepares it for play: migrate if the
// record predates the current schema, validate its structural invariants,
// sanitize the timeline, and persist any repair. Any previously open
// session's background work is cancelled first.
func (e *Engine) OpenSession(id string) (*game.Session, error) {
	sess, err := e.deps.Store.Load(id)
	if err != nil {
		return nil, err
	}

	dirty := false
	if migrate.NeedsMigration(sess) {
		res := migrate.MigrateSession(sess)
		if res.Migrated {
			dirty = true
			for _, line := range res.ChangeLog {
				logging.Migrate("session %s: %s", id, line)
			}
		}
	}
	if err := sess.Validate(); err != nil {
		return nil, fmt.Errorf("session %s failed validation: %w", id, err)
	}
	if clean := timeline.Sanitize(sess.Messages); len(clean) != len(sess.Messages) || pagesChanged(sess.Messages, clean) {
		sess.Messages = clean
		dirty = true
	}
	if dirty {
		// Best effort; the repaired record is saved again on the next turn.
		if err := e.deps.Store.Save(sess); err != nil {
			logging.Session("persisting repaired session %s failed: %v", id, err)
		}
	}

	e.adopt(sess)
	logging.Session("opened %s", sess)
	return sess, nil
}

// CreateSession builds, persists and opens a fresh session with one player
// character in one starting location.
func (e *Engine) CreateSession(title string, cfg game.SessionConfig, playerName, locationName string) (*game.Session, error) {
	pcID := uuid.NewString()
	locID := uuid.NewString()
	sess := &game.Session{
		ID:                uuid.NewString(),
		Title:             title,
		LastPlayed:        time.Now(),
		Config:            cfg,
		PlayerCharacterID: pcID,
		CurrentLocationID: locID,
		Characters: map[string]*game.Character{
			pcID: {
				ID:            pcID,
				Name:          playerName,
				IsPlayer:      true,
				LocationID:    locID,
				State:         game.StateIdle,
				Stats:         game.Stats{HP: 100, MaxHP: 100, Gold: migrate.StartingGold(cfg.UniverseName)},
				Inventory:     []game.Item{},
				Relationships: map[string]int{},
				AccentColor:   pickAccent(playerName),
			},
		},
		Locations: map[string]*game.Location{
			locID: {ID: locID, Name: locationName},
		},
	}
	if err := e.deps.Store.Save(sess); err != nil {
		return nil, err
	}
	e.adopt(sess)
	logging.Session("created %s", sess)
	return sess, nil
}

// CloseSession cancels background work and detaches the current session.
func (e *Engine) CloseSession() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.bgCancel != nil {
		e.bgCancel()
		e.bgCancel = nil
	}
	e.session = nil
	e.generation++
}

// Session returns a detached copy of the currently open session, or nil.
// Background jobs keep mutating the live record; callers own the copy and
// can read it without holding any lock.
func (e *Engine) Session() *game.Session {
	return e.snapshot()
}

// ContextUpdating reports whether a memory digest refresh is in flight.
// Driven off the coordinator's in-flight set so the answer can never
// disagree with the job's actual lifetime.
func (e *Engine) ContextUpdating() bool {
	return e.deps.Coordinator.InFlight(tasks.KeyDigest)
}

func (e *Engine) adopt(sess *game.Session) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.bgCancel != nil {
		e.bgCancel()
	}
	e.bgCtx, e.bgCancel = context.WithCancel(context.Background())
	e.session = sess
	e.generation++
}

// =============================================================================
// TURN ORCHESTRATION
// =============================================================================

// SubmitTurn runs one player turn end to end. Concurrent submissions are
// rejected with ErrTurnInFlight. A terminal collaborator failure (auth,
// quota) surfaces as a blocking notification and an error; a recoverable
// failure degrades to a system message on the timeline and a nil return.
func (e *Engine) SubmitTurn(ctx context.Context, rawInput string, fate *ai.FateModifier) error {
	e.mu.Lock()
	open := e.session != nil
	gen := e.generation
	e.mu.Unlock()
	if !open {
		return ErrNoSession
	}
	if err := e.checkCredentials(ctx); err != nil {
		return err
	}
	if !e.processing.CompareAndSwap(false, true) {
		return ErrTurnInFlight
	}
	defer e.processing.Store(false)

	timer := logging.StartTimer(logging.CategoryTurn, "turn")
	defer timer.StopWithThreshold(30 * time.Second)

	// Classification. A recoverable failure falls back to treating the
	// input as a verbatim action; the turn still runs.
	snap := e.snapshot()
	if snap == nil {
		return ErrNoSession
	}
	cls, err := e.deps.Classifier.Classify(ctx, snap, rawInput)
	if err != nil {
		if terminal(err) {
			return e.blockOn(err)
		}
		logging.Turn("classifier degraded, treating input as action: %v", err)
		cls = ai.Classification{Kind: ai.InputAction, ProcessedText: rawInput, ShouldProcess: true}
	}
	if !cls.ShouldProcess {
		logging.Turn("classifier vetoed input %q", rawInput)
		return nil
	}

	// The player's own message is made durable before resolution so a crash
	// mid-turn never loses what they typed.
	if err := e.mutateSession(gen, func(s *game.Session) {
		e.appendPlayerMessage(s, cls)
	}); err != nil {
		return err
	}

	snap = e.snapshot()
	if snap == nil {
		return ErrNoSession
	}
	result, err := e.deps.Resolver.ResolveTurn(ctx, snap, cls.ProcessedText, fate)
	if err != nil {
		if terminal(err) {
			return e.blockOn(err)
		}
		return e.degrade(gen, err)
	}

	var kept []ai.ResolvedMessage
	var dropped int
	if err := e.mutateSession(gen, func(s *game.Session) {
		applyStateUpdates(s, result.Updates)
		kept, dropped = filterPlayerAgency(result.Messages, playerNameOf(s))
		appendResolved(s, kept)
		s.TurnCount++
		s.LastPlayed = time.Now()
	}); err != nil {
		return err
	}
	logging.Turn("turn resolved: %d message(s), %d filtered", len(kept), dropped)

	e.fireBackground(gen, result)
	return nil
}

// mutateSession applies a mutation to the live session under the lock, then
// sanitizes and persists. Returns ErrNoSession if the session changed
// underneath the caller. Persistence is fire-and-forget: the in-memory
// session stays authoritative and the next save retries the full record.
func (e *Engine) mutateSession(gen int64, fn func(*game.Session)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil || e.generation != gen {
		return ErrNoSession
	}
	fn(e.session)
	e.session.Messages = timeline.Sanitize(e.session.Messages)
	if err := e.deps.Store.Save(e.session); err != nil {
		logging.Turn("save failed, continuing in memory: %v", err)
	}
	return nil
}

// snapshot clones the live session under the lock for collaborator calls.
func (e *Engine) snapshot() *game.Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	return e.session.Clone()
}

// degrade appends a recoverable failure as a system message and ends the
// turn cleanly. The notice carries the failure kind and a high-resolution
// timestamp so back-to-back retries stay distinct under the sanitizer's
// duplicate fingerprint window.
func (e *Engine) degrade(gen int64, err error) error {
	logging.Turn("turn degraded: %v", err)
	reason := "service error"
	var se *ai.ServiceError
	if errors.As(err, &se) {
		reason = se.Kind.String()
	}
	notice := fmt.Sprintf("The story falters for a moment (%s, %s). Try again shortly.",
		reason, time.Now().Format("15:04:05.000000000"))
	return e.mutateSession(gen, func(s *game.Session) {
		s.Messages = append(s.Messages, game.Message{
			ID:        uuid.NewString(),
			SenderID:  "narrator",
			Type:      game.MessageSystem,
			Text:      notice,
			Timestamp: time.Now(),
		})
	})
}

// blockOn emits a blocking notification for a terminal failure.
func (e *Engine) blockOn(err error) error {
	var se *ai.ServiceError
	title := "Service unavailable"
	if errors.As(err, &se) {
		switch se.Kind {
		case ai.KindAuth:
			title = "Check your API credentials"
		case ai.KindQuota:
			title = "API quota exhausted"
		}
	}
	e.notify(Notification{Blocking: true, Title: title, Body: err.Error()})
	return err
}

func (e *Engine) notify(n Notification) {
	if e.deps.Notify != nil {
		e.deps.Notify(n)
	}
}

func (e *Engine) checkCredentials(ctx context.Context) error {
	if e.deps.Credentials == nil {
		return nil
	}
	e.credsOnce.Do(func() {
		if err := e.deps.Credentials.CheckCredentials(ctx); err != nil {
			if terminal(err) {
				e.credsErr = err
				return
			}
			// Transient failures do not block play; resolution will
			// report its own errors.
			logging.Turn("credential check inconclusive: %v", err)
		}
	})
	if e.credsErr != nil {
		return e.blockOn(e.credsErr)
	}
	return nil
}

func (e *Engine) appendPlayerMessage(sess *game.Session, cls ai.Classification) {
	msgType := game.MessageNarration
	if cls.Kind == ai.InputSpeech {
		msgType = game.MessageDialogue
	}
	sess.Messages = append(sess.Messages, game.Message{
		ID:        uuid.NewString(),
		SenderID:  sess.PlayerCharacterID,
		Type:      msgType,
		Text:      cls.ProcessedText,
		Timestamp: time.Now(),
	})
}

// =============================================================================
// BACKGROUND JOBS
// =============================================================================

// fireBackground launches the post-turn jobs: memory digest, spatial
// snapshot, and imagery for an unillustrated current location. Each job
// works on a session clone under the session's background context; results
// landing after a session switch are discarded by the generation check.
func (e *Engine) fireBackground(gen int64, result *ai.TurnResult) {
	e.mu.Lock()
	bgCtx := e.bgCtx
	e.mu.Unlock()
	if bgCtx == nil {
		return
	}
	snap := e.snapshot()
	if snap == nil {
		return
	}

	if e.deps.Memorist != nil {
		e.deps.Coordinator.RunExclusive(bgCtx, tasks.KeyDigest,
			tasks.DigestJob(e.deps.Memorist, snap, result, func(d *game.HeavyContext) {
				e.applyToSession(gen, "digest", func(s *game.Session) {
					s.HeavyContext = d
				})
			}))
	}

	if e.deps.Cartographer != nil {
		e.deps.Coordinator.RunExclusive(bgCtx, tasks.KeyGrid,
			tasks.GridJob(e.deps.Cartographer, snap, result, func(gs game.GridSnapshot) {
				e.applyToSession(gen, "grid", func(s *game.Session) {
					s.GridSnapshots = append(s.GridSnapshots, gs)
				})
			}))
	}

	if e.deps.Illustrator != nil {
		if loc := snap.CurrentLocation(); loc != nil && loc.ImageURL == "" {
			locID := loc.ID
			e.deps.Coordinator.RunExclusive(bgCtx, tasks.ImageryKey(locID),
				tasks.LocationImageryJob(e.deps.Illustrator, *loc, func(url string) {
					e.applyToSession(gen, "imagery", func(s *game.Session) {
						if l, ok := s.Locations[locID]; ok {
							l.ImageURL = url
						}
					})
				}))
		}
		if len(snap.ThemeColors) == 0 {
			e.RegenerateTheme(false)
		}
	}
}

// RegenerateTheme refreshes the session's theme palette in the background.
// force bypasses the already-themed skip for an explicit user request.
func (e *Engine) RegenerateTheme(force bool) {
	e.mu.Lock()
	sess, gen, bgCtx := e.session, e.generation, e.bgCtx
	e.mu.Unlock()
	if sess == nil || bgCtx == nil || e.deps.Illustrator == nil {
		return
	}
	snap := sess.Clone()
	if snap == nil {
		return
	}
	e.deps.Coordinator.RunExclusive(bgCtx, tasks.KeyTheme,
		tasks.ThemeJob(e.deps.Illustrator, snap, force, func(colors []string) {
			e.applyToSession(gen, "theme", func(s *game.Session) {
				s.ThemeColors = colors
			})
		}))
}

// applyToSession applies a background result to the live session. Results
// for a stale generation are dropped; the session they belong to is no
// longer open.
func (e *Engine) applyToSession(gen int64, what string, mutate func(*game.Session)) {
	if err := e.mutateSession(gen, mutate); err != nil {
		logging.TasksDebug("dropping stale %s result", what)
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func terminal(err error) bool {
	var se *ai.ServiceError
	return errors.As(err, &se) && se.Kind.Terminal()
}

func playerNameOf(sess *game.Session) string {
	if pc := sess.Player(); pc != nil {
		return pc.Name
	}
	return ""
}

func pagesChanged(before, after []game.Message) bool {
	if len(before) != len(after) {
		return true
	}
	for i := range before {
		if before[i].ID != after[i].ID || before[i].PageNumber != after[i].PageNumber {
			return true
		}
	}
	return false
}
