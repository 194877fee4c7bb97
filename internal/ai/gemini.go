package ai

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/genai"

	"taleweaver/internal/game"
	"taleweaver/internal/logging"
)

// maxContextMessages bounds the trailing message window sent with each
// resolution request.
const maxContextMessages = 40

// Gemini implements every collaborator interface on the Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
}

var (
	_ Classifier        = (*Gemini)(nil)
	_ Resolver          = (*Gemini)(nil)
	_ Memorist          = (*Gemini)(nil)
	_ Cartographer      = (*Gemini)(nil)
	_ Illustrator       = (*Gemini)(nil)
	_ Suggester         = (*Gemini)(nil)
	_ CredentialChecker = (*Gemini)(nil)
)

// NewGemini creates the Gemini collaborator client.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if apiKey == "" {
		return nil, &ServiceError{Kind: KindAuth, Op: "init", Err: fmt.Errorf("API key is required")}
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, Classify("init", err)
	}
	return &Gemini{client: client, model: model}, nil
}

// CheckCredentials issues a minimal request to verify the key works.
func (g *Gemini) CheckCredentials(ctx context.Context) error {
	_, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text("ping"), nil)
	if err != nil {
		return Classify("credentials", err)
	}
	return nil
}

// generateJSON sends a prompt expecting a JSON response body.
func (g *Gemini) generateJSON(ctx context.Context, op, system, prompt string) (string, error) {
	timer := logging.StartTimer(logging.CategoryAI, op)
	defer timer.Stop()

	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType:  "application/json",
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), cfg)
	if err != nil {
		logging.Get(logging.CategoryAI).Warn("%s failed: %v", op, err)
		return "", Classify(op, err)
	}
	text := resp.Text()
	logging.AIDebug("%s response: %d bytes", op, len(text))
	return text, nil
}

// Classify decides whether raw input is an action or in-character speech,
// rewriting speech to fit the character's voice.
func (g *Gemini) Classify(ctx context.Context, snap *game.Session, rawInput string) (Classification, error) {
	system := `You classify player input for a narrative game as "action" or "speech".
Speech is rewritten to match the player character's voice and the universe's register; action text is returned verbatim.
Respond with JSON: {"type": "action"|"speech", "processed_text": string, "should_process": bool}.`

	prompt := fmt.Sprintf("Universe: %s\nPlayer character: %s\nInput: %s",
		snap.Config.UniverseName, playerName(snap), rawInput)

	raw, err := g.generateJSON(ctx, "classify", system, prompt)
	if err != nil {
		return Classification{}, err
	}
	c, err := parseClassification(raw)
	if err != nil {
		return Classification{}, err
	}
	// Never let a rewrite drop the input entirely.
	if c.ProcessedText == "" {
		c.ProcessedText = rawInput
	}
	if c.Kind == InputAction {
		c.ProcessedText = rawInput
	}
	return c, nil
}

// ResolveTurn asks the narrative service to resolve one player turn.
func (g *Gemini) ResolveTurn(ctx context.Context, snap *game.Session, input string, fate *FateModifier) (*TurnResult, error) {
	system := `You are the narrator of a turn-based story. Resolve the player's turn.
Respond with JSON: {"messages": [{"type": "narration"|"dialogue"|"system", "text": string, "character_name": string, "dialogue": string, "voice_tone": string, "new_character_data": {"name": string, "description": string}}], "state_updates": {"new_characters": [], "new_locations": [], "updated_characters": [], "location_change": string, "event_log": string}}.
Never write dialogue for the player character.`

	prompt := fmt.Sprintf("Context:\n%s\nPlayer turn: %s", contextJSON(snap), input)
	if fate != nil {
		prompt += fmt.Sprintf("\nFate modifier: %s (weight %d)", fate.Name, fate.Weight)
	}

	raw, err := g.generateJSON(ctx, "resolve", system, prompt)
	if err != nil {
		return nil, err
	}
	return parseTurnResult(raw)
}

// UpdateDigest asks whether the memory digest should change after a turn.
func (g *Gemini) UpdateDigest(ctx context.Context, snap *game.Session, last *TurnResult) (DigestUpdate, error) {
	system := `You maintain a compact story memory digest.
Respond with JSON: {"should_update": bool, "new_digest": {"main_mission": string, "current_mission": string, "active_problems": [string], "current_concerns": [string], "important_notes": [string]}}.`

	prompt := fmt.Sprintf("Current digest:\n%s\nLast turn:\n%s", digestJSON(snap), turnJSON(last))
	raw, err := g.generateJSON(ctx, "digest", system, prompt)
	if err != nil {
		return DigestUpdate{}, err
	}
	return parseDigest(raw)
}

// UpdateGrid asks whether character positions changed this turn.
func (g *Gemini) UpdateGrid(ctx context.Context, snap *game.Session, last *TurnResult, messageCount int) (GridUpdate, error) {
	system := `You track character positions on a 10x10 grid.
Respond with JSON: {"updated": bool, "snapshot": {"message_number": int, "positions": [{"character_id": string, "name": string, "is_player": bool, "x": int, "y": int}]}}.`

	prompt := fmt.Sprintf("Context:\n%s\nLast turn:\n%s\nMessage count: %d",
		contextJSON(snap), turnJSON(last), messageCount)
	raw, err := g.generateJSON(ctx, "grid", system, prompt)
	if err != nil {
		return GridUpdate{}, err
	}
	upd, err := parseGrid(raw)
	if err != nil {
		return GridUpdate{}, err
	}
	if upd.Updated && upd.Snapshot.MessageNumber == 0 {
		upd.Snapshot.MessageNumber = messageCount
	}
	return upd, nil
}

// LocationImage produces an image reference for a location. The generative
// image endpoint returns a URL-addressable asset; storing the reference is
// all the engine needs.
func (g *Gemini) LocationImage(ctx context.Context, loc *game.Location) (string, error) {
	system := `You describe a location as a single evocative image caption for an illustration pipeline.
Respond with JSON: {"options": [string]} containing exactly one caption.`

	prompt := fmt.Sprintf("Location: %s\n%s", loc.Name, loc.Description)
	raw, err := g.generateJSON(ctx, "illustrate", system, prompt)
	if err != nil {
		return "", err
	}
	captions, err := parseOptions(raw)
	if err != nil {
		return "", err
	}
	if len(captions) == 0 {
		return "", validationError("illustrate", "no caption returned")
	}
	return captions[0], nil
}

// ThemePalette proposes theme colors for the session's universe.
func (g *Gemini) ThemePalette(ctx context.Context, snap *game.Session) ([]string, error) {
	system := `You pick a theme palette for a story universe.
Respond with JSON: {"options": [string]} of 4 hex colors.`

	prompt := fmt.Sprintf("Universe: %s (%s)", snap.Config.UniverseName, snap.Config.UniverseType)
	raw, err := g.generateJSON(ctx, "theme", system, prompt)
	if err != nil {
		return nil, err
	}
	colors, err := parseOptions(raw)
	if err != nil {
		return nil, err
	}
	if len(colors) == 0 {
		return nil, validationError("theme", "no colors returned")
	}
	return colors, nil
}

// SuggestActions proposes the next action menu.
func (g *Gemini) SuggestActions(ctx context.Context, snap *game.Session) ([]string, error) {
	system := `You suggest short next actions for the player.
Respond with JSON: {"options": [string]} of 3-5 suggestions.`

	raw, err := g.generateJSON(ctx, "suggest", system, fmt.Sprintf("Context:\n%s", contextJSON(snap)))
	if err != nil {
		return nil, err
	}
	return parseOptions(raw)
}

// =============================================================================
// PROMPT CONTEXT HELPERS
// =============================================================================

func playerName(snap *game.Session) string {
	if pc := snap.Player(); pc != nil {
		return pc.Name
	}
	return ""
}

// contextJSON renders the bounded session context shared by most prompts:
// characters, current location, trailing messages and the memory digest.
func contextJSON(snap *game.Session) string {
	type msg struct {
		Sender string `json:"sender"`
		Type   string `json:"type"`
		Text   string `json:"text"`
	}
	type ch struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		IsPlayer bool   `json:"is_player,omitempty"`
		State    string `json:"state,omitempty"`
	}
	ctxObj := struct {
		Universe  string             `json:"universe"`
		Language  string             `json:"language"`
		Style     string             `json:"style"`
		Location  string             `json:"location"`
		Chars     []ch               `json:"characters"`
		Messages  []msg              `json:"messages"`
		Digest    *game.HeavyContext `json:"memory,omitempty"`
		TurnCount int                `json:"turn_count"`
	}{
		Universe:  snap.Config.UniverseName,
		Language:  snap.Config.Language,
		Style:     string(snap.Config.Style),
		Digest:    snap.HeavyContext,
		TurnCount: snap.TurnCount,
	}
	if loc := snap.CurrentLocation(); loc != nil {
		ctxObj.Location = loc.Name
	}
	for _, c := range snap.Characters {
		ctxObj.Chars = append(ctxObj.Chars, ch{ID: c.ID, Name: c.Name, IsPlayer: c.IsPlayer, State: string(c.State)})
	}
	for _, m := range snap.TrailingMessages(maxContextMessages) {
		ctxObj.Messages = append(ctxObj.Messages, msg{Sender: m.SenderID, Type: string(m.Type), Text: m.Text})
	}
	data, _ := json.Marshal(ctxObj)
	return string(data)
}

func digestJSON(snap *game.Session) string {
	if snap.HeavyContext == nil {
		return "{}"
	}
	data, _ := json.Marshal(snap.HeavyContext)
	return string(data)
}

func turnJSON(last *TurnResult) string {
	if last == nil {
		return "{}"
	}
	data, _ := json.Marshal(last)
	return string(data)
}
