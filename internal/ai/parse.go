package ai

import (
	"encoding/json"
	"strings"

	"taleweaver/internal/game"
)

// Wire shapes for collaborator JSON payloads. These are decoded and
// validated here, then converted to the typed results the engine consumes;
// undefined fields never propagate downstream.

type classificationWire struct {
	Type          string `json:"type"`
	ProcessedText string `json:"processed_text"`
	ShouldProcess *bool  `json:"should_process"`
}

type resolvedMessageWire struct {
	Type          string            `json:"type"`
	Text          string            `json:"text,omitempty"`
	CharacterName string            `json:"character_name,omitempty"`
	Dialogue      string            `json:"dialogue,omitempty"`
	VoiceTone     string            `json:"voice_tone,omitempty"`
	NewCharacter  *newCharacterWire `json:"new_character_data,omitempty"`
}

type newCharacterWire struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type characterUpdateWire struct {
	ID            string         `json:"id"`
	Name          string         `json:"name,omitempty"`
	Description   string         `json:"description,omitempty"`
	State         string         `json:"state,omitempty"`
	LocationID    string         `json:"location_id,omitempty"`
	Stats         map[string]int `json:"stats,omitempty"`
	Relationships map[string]int `json:"relationships,omitempty"`
	Inventory     []game.Item    `json:"inventory,omitempty"`
}

type turnResultWire struct {
	Messages     []resolvedMessageWire `json:"messages"`
	StateUpdates struct {
		NewCharacters     []newCharacterWire    `json:"new_characters,omitempty"`
		NewLocations      []game.Location       `json:"new_locations,omitempty"`
		UpdatedCharacters []characterUpdateWire `json:"updated_characters,omitempty"`
		LocationChange    string                `json:"location_change,omitempty"`
		EventLog          string                `json:"event_log,omitempty"`
	} `json:"state_updates"`
}

type digestWire struct {
	ShouldUpdate bool               `json:"should_update"`
	NewDigest    *game.HeavyContext `json:"new_digest,omitempty"`
}

type gridWire struct {
	Updated  bool               `json:"updated"`
	Snapshot *game.GridSnapshot `json:"snapshot,omitempty"`
}

type optionsWire struct {
	Options []string `json:"options"`
}

// parseClassification validates a classifier payload.
func parseClassification(raw string) (Classification, error) {
	var w classificationWire
	if err := json.Unmarshal([]byte(stripFences(raw)), &w); err != nil {
		return Classification{}, validationError("classify", "malformed payload: %v", err)
	}
	var kind InputKind
	switch strings.ToLower(w.Type) {
	case "action":
		kind = InputAction
	case "speech":
		kind = InputSpeech
	default:
		return Classification{}, validationError("classify", "unknown input type %q", w.Type)
	}
	shouldProcess := true
	if w.ShouldProcess != nil {
		shouldProcess = *w.ShouldProcess
	}
	return Classification{Kind: kind, ProcessedText: w.ProcessedText, ShouldProcess: shouldProcess}, nil
}

// parseTurnResult validates a resolver payload and converts it into the
// typed TurnResult.
func parseTurnResult(raw string) (*TurnResult, error) {
	var w turnResultWire
	if err := json.Unmarshal([]byte(stripFences(raw)), &w); err != nil {
		return nil, validationError("resolve", "malformed payload: %v", err)
	}
	if len(w.Messages) == 0 {
		return nil, validationError("resolve", "resolver returned no messages")
	}

	result := &TurnResult{}
	for _, mw := range w.Messages {
		rm, err := convertMessage(mw)
		if err != nil {
			return nil, err
		}
		result.Messages = append(result.Messages, rm)
	}

	su := w.StateUpdates
	for _, nc := range su.NewCharacters {
		if nc.Name == "" {
			return nil, validationError("resolve", "new character without a name")
		}
		result.Updates.NewCharacters = append(result.Updates.NewCharacters,
			NewCharacterData{Name: nc.Name, Description: nc.Description})
	}
	for _, loc := range su.NewLocations {
		if loc.Name == "" {
			return nil, validationError("resolve", "new location without a name")
		}
		result.Updates.NewLocations = append(result.Updates.NewLocations, loc)
	}
	for _, cu := range su.UpdatedCharacters {
		if cu.ID == "" {
			return nil, validationError("resolve", "character update without an id")
		}
		result.Updates.UpdatedCharacters = append(result.Updates.UpdatedCharacters, CharacterUpdate{
			ID:            cu.ID,
			Name:          cu.Name,
			Description:   cu.Description,
			State:         parseState(cu.State),
			LocationID:    cu.LocationID,
			Stats:         cu.Stats,
			Relationships: cu.Relationships,
			Inventory:     cu.Inventory,
		})
	}
	result.Updates.LocationChange = su.LocationChange
	result.Updates.EventLog = su.EventLog
	return result, nil
}

func convertMessage(mw resolvedMessageWire) (ResolvedMessage, error) {
	switch strings.ToLower(mw.Type) {
	case "narration":
		if mw.Text == "" {
			return ResolvedMessage{}, validationError("resolve", "narration message without text")
		}
		return ResolvedMessage{Type: game.MessageNarration, Text: mw.Text}, nil
	case "system":
		if mw.Text == "" {
			return ResolvedMessage{}, validationError("resolve", "system message without text")
		}
		return ResolvedMessage{Type: game.MessageSystem, Text: mw.Text}, nil
	case "dialogue":
		if mw.CharacterName == "" || mw.Dialogue == "" {
			return ResolvedMessage{}, validationError("resolve", "dialogue message missing speaker or line")
		}
		rm := ResolvedMessage{
			Type:          game.MessageDialogue,
			CharacterName: mw.CharacterName,
			Dialogue:      mw.Dialogue,
			VoiceTone:     mw.VoiceTone,
		}
		if mw.NewCharacter != nil && mw.NewCharacter.Name != "" {
			rm.NewCharacter = &NewCharacterData{
				Name:        mw.NewCharacter.Name,
				Description: mw.NewCharacter.Description,
			}
		}
		return rm, nil
	default:
		return ResolvedMessage{}, validationError("resolve", "unknown message type %q", mw.Type)
	}
}

func parseState(s string) game.CharacterState {
	switch strings.ToLower(s) {
	case "idle":
		return game.StateIdle
	case "talking":
		return game.StateTalking
	case "fighting":
		return game.StateFighting
	case "unconscious":
		return game.StateUnconscious
	case "dead":
		return game.StateDead
	default:
		return ""
	}
}

// parseDigest validates a memory collaborator payload.
func parseDigest(raw string) (DigestUpdate, error) {
	var w digestWire
	if err := json.Unmarshal([]byte(stripFences(raw)), &w); err != nil {
		return DigestUpdate{}, validationError("digest", "malformed payload: %v", err)
	}
	if w.ShouldUpdate && w.NewDigest == nil {
		return DigestUpdate{}, validationError("digest", "should_update without a digest")
	}
	if w.NewDigest != nil {
		w.NewDigest.Clamp()
	}
	return DigestUpdate{ShouldUpdate: w.ShouldUpdate, Digest: w.NewDigest}, nil
}

// parseGrid validates a spatial collaborator payload.
func parseGrid(raw string) (GridUpdate, error) {
	var w gridWire
	if err := json.Unmarshal([]byte(stripFences(raw)), &w); err != nil {
		return GridUpdate{}, validationError("grid", "malformed payload: %v", err)
	}
	if w.Updated && (w.Snapshot == nil || len(w.Snapshot.Positions) == 0) {
		return GridUpdate{}, validationError("grid", "updated without positions")
	}
	return GridUpdate{Updated: w.Updated, Snapshot: w.Snapshot}, nil
}

// parseOptions validates a suggested-actions payload.
func parseOptions(raw string) ([]string, error) {
	var w optionsWire
	if err := json.Unmarshal([]byte(stripFences(raw)), &w); err != nil {
		return nil, validationError("suggest", "malformed payload: %v", err)
	}
	var out []string
	for _, o := range w.Options {
		o = strings.TrimSpace(o)
		if o != "" {
			out = append(out, o)
		}
	}
	return out, nil
}

// stripFences removes a markdown code fence if the model wrapped its JSON
// in one despite the JSON response mime type.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
