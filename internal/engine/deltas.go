package engine

import (
	"time"

	"github.com/google/uuid"

	"taleweaver/internal/ai"
	"taleweaver/internal/game"
	"taleweaver/internal/logging"
)

// accentPalette is cycled when the resolver introduces characters, so every
// NPC gets a stable visual accent without a round trip to the illustrator.
var accentPalette = []string{
	"#e06c75", "#61afef", "#98c379", "#c678dd", "#e5c07b", "#56b6c2",
}

func pickAccent(name string) string {
	var sum int
	for _, r := range name {
		sum += int(r)
	}
	return accentPalette[sum%len(accentPalette)]
}

// applyStateUpdates merges a turn's world-state deltas into the session.
// New entities are added before updates so an update may target a character
// introduced this very turn.
func applyStateUpdates(sess *game.Session, su ai.StateUpdates) {
	for i := range su.NewLocations {
		addLocation(sess, su.NewLocations[i])
	}
	for _, nc := range su.NewCharacters {
		ensureCharacter(sess, nc)
	}
	for _, cu := range su.UpdatedCharacters {
		applyCharacterUpdate(sess, cu)
	}
	if su.LocationChange != "" {
		if _, ok := sess.Locations[su.LocationChange]; ok {
			sess.CurrentLocationID = su.LocationChange
			if pc := sess.Player(); pc != nil {
				pc.LocationID = su.LocationChange
			}
		} else {
			logging.Turn("ignoring move to unknown location %q", su.LocationChange)
		}
	}
	sess.AppendEvent(su.EventLog)
}

func addLocation(sess *game.Session, loc game.Location) {
	if loc.ID == "" {
		loc.ID = uuid.NewString()
	}
	if _, exists := sess.Locations[loc.ID]; exists {
		return
	}
	if sess.Locations == nil {
		sess.Locations = make(map[string]*game.Location)
	}
	l := loc
	sess.Locations[loc.ID] = &l
	logging.TurnDebug("new location %s (%s)", l.ID, l.Name)
}

// ensureCharacter adds a resolver-introduced character unless one with the
// same name already exists. Newcomers get default stats, an empty inventory,
// an empty relationship map and a palette accent.
func ensureCharacter(sess *game.Session, nc ai.NewCharacterData) *game.Character {
	for _, c := range sess.Characters {
		if normalizeSpeaker(c.Name) == normalizeSpeaker(nc.Name) {
			return c
		}
	}
	if sess.Characters == nil {
		sess.Characters = make(map[string]*game.Character)
	}
	c := &game.Character{
		ID:            uuid.NewString(),
		Name:          nc.Name,
		Description:   nc.Description,
		LocationID:    sess.CurrentLocationID,
		State:         game.StateIdle,
		Stats:         game.DefaultStats(),
		Inventory:     []game.Item{},
		Relationships: map[string]int{},
		AccentColor:   pickAccent(nc.Name),
	}
	sess.Characters[c.ID] = c
	logging.TurnDebug("new character %s (%s)", c.ID, c.Name)
	return c
}

// applyCharacterUpdate shallow-merges a partial update. Empty string fields
// leave the character untouched; Stats and Relationships merge key by key;
// a non-nil Inventory replaces the whole inventory.
func applyCharacterUpdate(sess *game.Session, cu ai.CharacterUpdate) {
	c, ok := sess.Characters[cu.ID]
	if !ok {
		logging.Turn("ignoring update for unknown character %q", cu.ID)
		return
	}
	if cu.Name != "" {
		c.Name = cu.Name
	}
	if cu.Description != "" {
		c.Description = cu.Description
	}
	if cu.State != "" {
		c.State = cu.State
	}
	if cu.LocationID != "" {
		c.LocationID = cu.LocationID
	}
	for k, v := range cu.Stats {
		switch k {
		case "hp":
			c.Stats.HP = v
		case "max_hp":
			c.Stats.MaxHP = v
		case "gold":
			c.Stats.Gold = v
		}
	}
	if len(cu.Relationships) > 0 {
		if c.Relationships == nil {
			c.Relationships = make(map[string]int)
		}
		for k, v := range cu.Relationships {
			c.Relationships[k] = v
		}
	}
	if cu.Inventory != nil {
		c.Inventory = cu.Inventory
	}
}

// appendResolved converts the surviving resolved messages into timeline
// entries. Dialogue from a brand-new speaker registers the speaker first so
// the message can carry a real sender id.
func appendResolved(sess *game.Session, msgs []ai.ResolvedMessage) {
	now := time.Now()
	for i, rm := range msgs {
		m := game.Message{
			ID: uuid.NewString(),
			// Distinct timestamps keep ordering stable within one turn.
			Timestamp: now.Add(time.Duration(i) * time.Millisecond),
			Type:      rm.Type,
			VoiceTone: rm.VoiceTone,
		}
		switch rm.Type {
		case game.MessageDialogue:
			speaker := findCharacterByName(sess, rm.CharacterName)
			if speaker == nil && rm.NewCharacter != nil {
				speaker = ensureCharacter(sess, *rm.NewCharacter)
			}
			if speaker == nil {
				speaker = ensureCharacter(sess, ai.NewCharacterData{Name: rm.CharacterName})
			}
			m.SenderID = speaker.ID
			m.Text = rm.Dialogue
		default:
			m.SenderID = "narrator"
			m.Text = rm.Text
		}
		sess.Messages = append(sess.Messages, m)
	}
}

func findCharacterByName(sess *game.Session, name string) *game.Character {
	want := normalizeSpeaker(name)
	for _, c := range sess.Characters {
		if normalizeSpeaker(c.Name) == want {
			return c
		}
	}
	return nil
}
