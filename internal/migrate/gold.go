package migrate

import "strings"

// goldBracket maps universe-name keywords to a starting gold amount.
type goldBracket struct {
	name     string
	keywords []string
	amount   int
}

// goldBrackets is an ordered rule table: the first bracket with a matching
// keyword wins, and the final entry (no keywords) is the fallback. Order
// matters: "space western" must land in sci-fi before western.
var goldBrackets = []goldBracket{
	{"sci-fi", []string{"star", "space", "galaxy", "galactic", "cyber", "neon", "android", "mars", "nebula", "void"}, 1200},
	{"modern", []string{"city", "modern", "noir", "detective", "heist", "corporate"}, 800},
	{"western", []string{"west", "frontier", "gunslinger", "outlaw", "desert town"}, 150},
	{"post-apocalyptic", []string{"wasteland", "apocalypse", "ruin", "plague", "fallout"}, 40},
	{"fantasy", nil, 100}, // default bracket
}

// npcStartingGold is what a migrated non-player character receives.
const npcStartingGold = 0

// StartingGold resolves a universe name to its starting gold bracket.
// Matching is case-insensitive substring; the first matching rule wins.
func StartingGold(universeName string) int {
	lower := strings.ToLower(universeName)
	for _, b := range goldBrackets {
		if len(b.keywords) == 0 {
			return b.amount
		}
		for _, kw := range b.keywords {
			if strings.Contains(lower, kw) {
				return b.amount
			}
		}
	}
	return goldBrackets[len(goldBrackets)-1].amount
}

// bracketName is used for the migration change log.
func bracketName(universeName string) string {
	lower := strings.ToLower(universeName)
	for _, b := range goldBrackets {
		if len(b.keywords) == 0 {
			return b.name
		}
		for _, kw := range b.keywords {
			if strings.Contains(lower, kw) {
				return b.name
			}
		}
	}
	return goldBrackets[len(goldBrackets)-1].name
}
