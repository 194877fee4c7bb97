package engine

import (
	"strings"

	"taleweaver/internal/ai"
	"taleweaver/internal/game"
	"taleweaver/internal/logging"
)

// The player-agency filter drops resolver dialogue attributed to the player
// character. The story may describe the player and address them, but it
// never speaks for them. Narration and system messages pass untouched.

// forbiddenSpeakers are speaker names that address the player directly in
// the languages the game ships in. Matched after normalization.
var forbiddenSpeakers = map[string]struct{}{
	// en
	"you": {}, "player": {}, "the player": {}, "yourself": {},
	// es
	"tu": {}, "usted": {}, "jugador": {}, "el jugador": {},
	// fr
	"toi": {}, "vous": {}, "joueur": {}, "le joueur": {},
	// de
	"du": {}, "spieler": {}, "der spieler": {},
	// pt
	"voce": {}, "jogador": {}, "o jogador": {},
}

// diacriticFold maps the accented latin runes that show up in character
// names to their base letters. Unicode NFD decomposition would be the
// general tool, but this closed table keeps the filter dependency-free and
// covers the shipped languages.
var diacriticFold = map[rune]rune{
	'á': 'a', 'à': 'a', 'â': 'a', 'ä': 'a', 'ã': 'a', 'å': 'a',
	'é': 'e', 'è': 'e', 'ê': 'e', 'ë': 'e',
	'í': 'i', 'ì': 'i', 'î': 'i', 'ï': 'i',
	'ó': 'o', 'ò': 'o', 'ô': 'o', 'ö': 'o', 'õ': 'o',
	'ú': 'u', 'ù': 'u', 'û': 'u', 'ü': 'u',
	'ý': 'y', 'ÿ': 'y',
	'ñ': 'n', 'ç': 'c', 'ß': 's',
}

// normalizeSpeaker lowercases, folds diacritics and collapses whitespace.
func normalizeSpeaker(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if folded, ok := diacriticFold[r]; ok {
			r = folded
		}
		b.WriteRune(r)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// speakerIsPlayer reports whether a dialogue speaker name refers to the
// player character. Exact normalized match, containment either way, and
// shared name tokens of three or more characters all count; "Aria" matches
// "Aria Stormborn" and "aría" alike.
func speakerIsPlayer(speaker, playerName string) bool {
	s := normalizeSpeaker(speaker)
	p := normalizeSpeaker(playerName)
	if s == "" {
		return false
	}
	if _, forbidden := forbiddenSpeakers[s]; forbidden {
		return true
	}
	if p == "" {
		return false
	}
	if s == p || strings.Contains(s, p) || strings.Contains(p, s) {
		return true
	}
	for _, st := range strings.Fields(s) {
		if len(st) < 3 {
			continue
		}
		for _, pt := range strings.Fields(p) {
			if st == pt {
				return true
			}
		}
	}
	return false
}

// filterPlayerAgency removes dialogue spoken as the player from a resolved
// turn. Returns the surviving messages and how many were dropped.
func filterPlayerAgency(msgs []ai.ResolvedMessage, playerName string) ([]ai.ResolvedMessage, int) {
	kept := msgs[:0:0]
	dropped := 0
	for _, m := range msgs {
		if m.Type == game.MessageDialogue && speakerIsPlayer(m.CharacterName, playerName) {
			dropped++
			logging.Turn("agency filter rejected dialogue for speaker %q (player %q)", m.CharacterName, playerName)
			continue
		}
		kept = append(kept, m)
	}
	return kept, dropped
}
