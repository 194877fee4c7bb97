package tasks

import (
	"context"
	"time"

	"taleweaver/internal/ai"
	"taleweaver/internal/game"
	"taleweaver/internal/logging"
)

// Well-known task keys. Imagery is per-location; the rest are singletons.
const (
	KeyTheme  = "theme"
	KeyDigest = "memory-digest"
	KeyGrid   = "grid-snapshot"
)

// ImageryKey returns the task key for one location's imagery.
func ImageryKey(locationID string) string {
	return "imagery:" + locationID
}

// Jobs build the closures the engine hands to the coordinator. Every job
// works on a session clone and reports its result through an apply callback;
// the callback is not invoked when the job's context was cancelled, so a
// result that arrives after a session switch is dropped instead of applied.

// LocationImageryJob fetches imagery for a location that has none.
func LocationImageryJob(ill ai.Illustrator, loc game.Location, apply func(imageURL string)) func(context.Context) error {
	return func(ctx context.Context) error {
		if loc.ImageURL != "" {
			logging.TasksDebug("imagery: location %s already illustrated", loc.ID)
			return nil
		}
		url, err := ill.LocationImage(ctx, &loc)
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		apply(url)
		return nil
	}
}

// ThemeJob fetches a theme palette for the session's universe. When force
// is false, a session that already has colors is left alone.
func ThemeJob(ill ai.Illustrator, snap *game.Session, force bool, apply func(colors []string)) func(context.Context) error {
	return func(ctx context.Context) error {
		if !force && len(snap.ThemeColors) > 0 {
			logging.TasksDebug("theme: session %s already themed", snap.ID)
			return nil
		}
		colors, err := ill.ThemePalette(ctx, snap)
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		apply(colors)
		return nil
	}
}

// DigestJob asks the memory collaborator whether the digest should change
// after a turn.
func DigestJob(mem ai.Memorist, snap *game.Session, last *ai.TurnResult, apply func(*game.HeavyContext)) func(context.Context) error {
	return func(ctx context.Context) error {
		upd, err := mem.UpdateDigest(ctx, snap, last)
		if err != nil {
			return err
		}
		if !upd.ShouldUpdate || upd.Digest == nil {
			logging.TasksDebug("digest: no change for session %s", snap.ID)
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
		apply(upd.Digest)
		return nil
	}
}

// GridJob maintains the spatial snapshot trail. A session with no snapshots
// gets an initial one placing everyone at the current location; otherwise
// the spatial collaborator is asked and a snapshot is appended only when it
// reports a change.
func GridJob(cart ai.Cartographer, snap *game.Session, last *ai.TurnResult, apply func(game.GridSnapshot)) func(context.Context) error {
	return func(ctx context.Context) error {
		if len(snap.GridSnapshots) == 0 {
			gs := initialSnapshot(snap)
			if ctx.Err() != nil {
				return nil
			}
			apply(gs)
			return nil
		}
		upd, err := cart.UpdateGrid(ctx, snap, last, len(snap.Messages))
		if err != nil {
			return err
		}
		if !upd.Updated || upd.Snapshot == nil {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
		gs := *upd.Snapshot
		if gs.CreatedAt.IsZero() {
			gs.CreatedAt = time.Now()
		}
		apply(gs)
		return nil
	}
}

// initialSnapshot clusters all present characters near the grid center,
// player first.
func initialSnapshot(snap *game.Session) game.GridSnapshot {
	gs := game.GridSnapshot{
		MessageNumber: len(snap.Messages),
		CreatedAt:     time.Now(),
	}
	x, y := 4, 4
	if pc := snap.Player(); pc != nil {
		gs.Positions = append(gs.Positions, game.CharacterPosition{
			CharacterID: pc.ID, Name: pc.Name, IsPlayer: true, X: x, Y: y,
		})
	}
	for _, c := range snap.Characters {
		if c.IsPlayer || c.LocationID != snap.CurrentLocationID {
			continue
		}
		x++
		if x > 9 {
			x, y = 4, y+1
		}
		gs.Positions = append(gs.Positions, game.CharacterPosition{
			CharacterID: c.ID, Name: c.Name, X: x, Y: y,
		})
	}
	return gs
}
