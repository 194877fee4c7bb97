// Package ai defines the contracts for the generative collaborators the
// engine depends on (input classification, narrative resolution, memory
// summarization, spatial tracking, imagery) and implements them on the
// Gemini API. Every collaborator response is parsed and validated at this
// boundary; nothing loosely-typed leaks into the engine.
package ai

import (
	"context"

	"taleweaver/internal/game"
)

// InputKind is the classifier's verdict on a raw player input.
type InputKind string

const (
	InputAction InputKind = "action"
	InputSpeech InputKind = "speech"
)

// Classification is the classifier result. Speech may be rewritten to
// match character and universe voice; action text passes through unchanged.
type Classification struct {
	Kind          InputKind
	ProcessedText string
	ShouldProcess bool
}

// NewCharacterData is the payload a dialogue message may carry when the
// resolver introduces a speaker the session has never seen.
type NewCharacterData struct {
	Name        string
	Description string
}

// ResolvedMessage is one timeline entry the resolver produced. Narration
// and system messages use Text; dialogue uses CharacterName plus Dialogue.
type ResolvedMessage struct {
	Type          game.MessageType
	Text          string
	CharacterName string
	Dialogue      string
	VoiceTone     string
	NewCharacter  *NewCharacterData
}

// CharacterUpdate is a partial update to an existing character. Stats and
// Relationships shallow-merge key by key; a non-nil Inventory replaces the
// character's inventory wholesale; empty strings leave fields untouched.
type CharacterUpdate struct {
	ID            string
	Name          string
	Description   string
	State         game.CharacterState
	LocationID    string
	Stats         map[string]int
	Relationships map[string]int
	Inventory     []game.Item
}

// StateUpdates are the world-state deltas accompanying a turn's messages.
type StateUpdates struct {
	NewCharacters     []NewCharacterData
	NewLocations      []game.Location
	UpdatedCharacters []CharacterUpdate
	LocationChange    string // new current location id, "" for no move
	EventLog          string // one human-readable line for the event log
}

// TurnResult is the full structured result of one narrative resolution.
type TurnResult struct {
	Messages []ResolvedMessage
	Updates  StateUpdates
}

// FateModifier optionally skews a turn's outcome.
type FateModifier struct {
	Name   string
	Weight int
}

// DigestUpdate is the memory collaborator's answer.
type DigestUpdate struct {
	ShouldUpdate bool
	Digest       *game.HeavyContext
}

// GridUpdate is the spatial collaborator's answer.
type GridUpdate struct {
	Updated  bool
	Snapshot *game.GridSnapshot
}

// Classifier decides whether raw input is an action or speech.
type Classifier interface {
	Classify(ctx context.Context, snap *game.Session, rawInput string) (Classification, error)
}

// Resolver turns classified player input into messages and state deltas.
type Resolver interface {
	ResolveTurn(ctx context.Context, snap *game.Session, input string, fate *FateModifier) (*TurnResult, error)
}

// Memorist maintains the bounded narrative memory digest.
type Memorist interface {
	UpdateDigest(ctx context.Context, snap *game.Session, last *TurnResult) (DigestUpdate, error)
}

// Cartographer tracks character positions on the abstract grid.
type Cartographer interface {
	UpdateGrid(ctx context.Context, snap *game.Session, last *TurnResult, messageCount int) (GridUpdate, error)
}

// Illustrator produces location imagery and theme palettes.
type Illustrator interface {
	LocationImage(ctx context.Context, loc *game.Location) (string, error)
	ThemePalette(ctx context.Context, snap *game.Session) ([]string, error)
}

// Suggester proposes the next action menu for the options cache.
type Suggester interface {
	SuggestActions(ctx context.Context, snap *game.Session) ([]string, error)
}

// CredentialChecker verifies the configured API credentials are usable.
type CredentialChecker interface {
	CheckCredentials(ctx context.Context) error
}
