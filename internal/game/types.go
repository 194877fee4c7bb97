// Package game defines the domain model for a play session: the session
// record itself plus the characters, locations, messages, memory digest and
// grid snapshots it owns. The engine mutates these types; the store
// serializes them as a single JSON payload per session.
package game

import (
	"encoding/json"
	"time"
)

// MessageType distinguishes the three timeline message kinds.
type MessageType string

const (
	MessageDialogue  MessageType = "dialogue"
	MessageNarration MessageType = "narration"
	MessageSystem    MessageType = "system"
)

// CharacterState tracks what a character is currently doing.
type CharacterState string

const (
	StateIdle        CharacterState = "idle"
	StateTalking     CharacterState = "talking"
	StateFighting    CharacterState = "fighting"
	StateUnconscious CharacterState = "unconscious"
	StateDead        CharacterState = "dead"
)

// NarrativeStyle selects how the resolution collaborator narrates.
type NarrativeStyle string

const (
	StyleClassic    NarrativeStyle = "classic"
	StyleCinematic  NarrativeStyle = "cinematic"
	StyleMinimalist NarrativeStyle = "minimalist"
)

// SessionConfig holds the immutable story setup chosen at creation.
type SessionConfig struct {
	UniverseName string         `json:"universe_name"`
	UniverseType string         `json:"universe_type"`
	Language     string         `json:"language"`
	Style        NarrativeStyle `json:"style"`
}

// Stats are a character's numeric attributes. Gold is never negative in a
// valid record; -1 marks a legacy record that predates the currency field
// and is repaired by the migrator.
type Stats struct {
	HP    int `json:"hp"`
	MaxHP int `json:"max_hp"`
	Gold  int `json:"gold"`
}

// UnmarshalJSON defaults Gold to -1 so a payload that predates the currency
// field is distinguishable from an explicit zero.
func (s *Stats) UnmarshalJSON(data []byte) error {
	type alias Stats
	tmp := alias{Gold: -1}
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}
	*s = Stats(tmp)
	return nil
}

// Item is one structured inventory entry.
type Item struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Value    int    `json:"value"`

	// Legacy marks an entry decoded from the old flat string shape.
	// Never persisted; the migrator converts and clears it.
	Legacy bool `json:"-"`
}

// UnmarshalJSON accepts both the structured item object and the legacy
// flat string shape ("sword" instead of {"name":"sword",...}).
func (it *Item) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return err
		}
		*it = Item{Name: name, Legacy: true}
		return nil
	}
	type alias Item
	var tmp alias
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}
	*it = Item(tmp)
	return nil
}

// Character is a player or NPC. Characters are never hard-deleted; death is
// a state transition.
type Character struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Description   string         `json:"description"`
	IsPlayer      bool           `json:"is_player"`
	LocationID    string         `json:"location_id"`
	State         CharacterState `json:"state"`
	Stats         Stats          `json:"stats"`
	Inventory     []Item         `json:"inventory"`
	Relationships map[string]int `json:"relationships"`
	AccentColor   string         `json:"accent_color,omitempty"`
}

// Location is a place characters can occupy.
type Location struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	ImageURL    string `json:"image_url,omitempty"`
}

// Message is one entry on the append-only timeline. PageNumber is assigned
// by the timeline sanitizer and is 1-based and contiguous after every
// sanitize pass.
type Message struct {
	ID         string      `json:"id"`
	SenderID   string      `json:"sender_id"`
	Text       string      `json:"text"`
	Type       MessageType `json:"type"`
	Timestamp  time.Time   `json:"timestamp"`
	PageNumber int         `json:"page_number"`
	VoiceTone  string      `json:"voice_tone,omitempty"`
	Viewed     bool        `json:"viewed,omitempty"`
}

// EventLine is one entry of the session's event log.
type EventLine struct {
	TurnNumber int       `json:"turn_number"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
}

// Bounded list sizes for the memory digest. Enforced on merge, not on load.
const (
	MaxActiveProblems  = 4
	MaxCurrentConcerns = 4
	MaxImportantNotes  = 6
)

// HeavyContext is the bounded narrative memory digest carried between turns.
type HeavyContext struct {
	MainMission     string   `json:"main_mission"`
	CurrentMission  string   `json:"current_mission"`
	ActiveProblems  []string `json:"active_problems"`
	CurrentConcerns []string `json:"current_concerns"`
	ImportantNotes  []string `json:"important_notes"`
}

// Clamp trims the digest lists to their bounds, keeping the most recent
// entries.
func (h *HeavyContext) Clamp() {
	h.ActiveProblems = tail(h.ActiveProblems, MaxActiveProblems)
	h.CurrentConcerns = tail(h.CurrentConcerns, MaxCurrentConcerns)
	h.ImportantNotes = tail(h.ImportantNotes, MaxImportantNotes)
}

func tail(s []string, n int) []string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// CharacterPosition is one character's coordinates on the abstract grid.
type CharacterPosition struct {
	CharacterID string `json:"character_id"`
	Name        string `json:"name"`
	IsPlayer    bool   `json:"is_player"`
	X           int    `json:"x"`
	Y           int    `json:"y"`
}

// GridSnapshot records all character positions as of a message number.
// Snapshots are immutable once appended.
type GridSnapshot struct {
	MessageNumber int                 `json:"message_number"`
	Positions     []CharacterPosition `json:"positions"`
	CreatedAt     time.Time           `json:"created_at"`
}

// Session is the full persisted and mutable state of one play-through.
type Session struct {
	ID                string                `json:"id"`
	Title             string                `json:"title"`
	TurnCount         int                   `json:"turn_count"`
	LastPlayed        time.Time             `json:"last_played"`
	Config            SessionConfig         `json:"config"`
	PlayerCharacterID string                `json:"player_character_id"`
	CurrentLocationID string                `json:"current_location_id"`
	Characters        map[string]*Character `json:"characters"`
	Locations         map[string]*Location  `json:"locations"`
	Messages          []Message             `json:"messages"`
	Events            []EventLine           `json:"events"`
	HeavyContext      *HeavyContext         `json:"heavy_context,omitempty"`
	GridSnapshots     []GridSnapshot        `json:"grid_snapshots"`
	ThemeColors       []string              `json:"theme_colors,omitempty"`
}

// SessionSummary is the lightweight listing shape returned by LoadAll.
type SessionSummary struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Universe   string    `json:"universe"`
	TurnCount  int       `json:"turn_count"`
	LastPlayed time.Time `json:"last_played"`
}

// CachedActionOptions is the one live suggested-action menu per session.
type CachedActionOptions struct {
	SessionID     string   `json:"session_id"`
	CacheKey      string   `json:"cache_key"`
	LastMessageID string   `json:"last_message_id"`
	Options       []string `json:"options"`
}
