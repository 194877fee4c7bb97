package game

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Validation errors for session invariants.
var (
	ErrNoPlayer       = errors.New("session has no player character")
	ErrManyPlayers    = errors.New("session has more than one player character")
	ErrBadPlayerRef   = errors.New("player_character_id does not key a player character")
	ErrBadLocationRef = errors.New("current_location_id does not key a location")
)

// Validate checks the structural invariants a session must hold before the
// engine will touch it: exactly one player-flagged character, keyed by
// PlayerCharacterID, and a resolvable current location.
func (s *Session) Validate() error {
	players := 0
	for _, c := range s.Characters {
		if c.IsPlayer {
			players++
		}
	}
	if players == 0 {
		return ErrNoPlayer
	}
	if players > 1 {
		return ErrManyPlayers
	}
	pc, ok := s.Characters[s.PlayerCharacterID]
	if !ok || !pc.IsPlayer {
		return ErrBadPlayerRef
	}
	if _, ok := s.Locations[s.CurrentLocationID]; !ok {
		return ErrBadLocationRef
	}
	return nil
}

// Player returns the player character, or nil for an invalid session.
func (s *Session) Player() *Character {
	if c, ok := s.Characters[s.PlayerCharacterID]; ok && c.IsPlayer {
		return c
	}
	return nil
}

// CurrentLocation returns the location the story is taking place in.
func (s *Session) CurrentLocation() *Location {
	return s.Locations[s.CurrentLocationID]
}

// TrailingMessages returns the last n messages in timeline order. The
// returned slice aliases the session's message list and must not be mutated.
func (s *Session) TrailingMessages(n int) []Message {
	if n <= 0 || len(s.Messages) <= n {
		return s.Messages
	}
	return s.Messages[len(s.Messages)-n:]
}

// LastMessageID returns the ID of the newest message, or "" when the
// timeline is empty.
func (s *Session) LastMessageID() string {
	if len(s.Messages) == 0 {
		return ""
	}
	return s.Messages[len(s.Messages)-1].ID
}

// AppendEvent records one event-log line for the current turn.
func (s *Session) AppendEvent(text string) {
	if text == "" {
		return
	}
	s.Events = append(s.Events, EventLine{
		TurnNumber: s.TurnCount,
		Text:       text,
		Timestamp:  time.Now(),
	})
}

// MarkViewed flags all messages up to and including id as viewed.
func (s *Session) MarkViewed(id string) {
	for i := range s.Messages {
		s.Messages[i].Viewed = true
		if s.Messages[i].ID == id {
			return
		}
	}
}

// Summary derives the listing shape for this session.
func (s *Session) Summary() SessionSummary {
	return SessionSummary{
		ID:         s.ID,
		Title:      s.Title,
		Universe:   s.Config.UniverseName,
		TurnCount:  s.TurnCount,
		LastPlayed: s.LastPlayed,
	}
}

// DefaultStats returns the stat block assigned to characters the resolver
// introduces without one.
func DefaultStats() Stats {
	return Stats{HP: 100, MaxHP: 100, Gold: 0}
}

// Clone returns a deep copy of the session. Background collaborators work
// on clones so the engine can keep mutating the live session.
func (s *Session) Clone() *Session {
	data, err := json.Marshal(s)
	if err != nil {
		return nil
	}
	var out Session
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return &out
}

// String implements fmt.Stringer for log lines.
func (s *Session) String() string {
	return fmt.Sprintf("session %s (%q, turn %d)", s.ID, s.Title, s.TurnCount)
}
