// Package migrate upgrades legacy persisted sessions to the current record
// shape. Two legacy forms exist: flat string inventories ("sword" instead
// of a structured item) and stat blocks that predate the gold field. The
// migrator is deterministic and idempotent; callers persist the migrated
// record themselves.
package migrate

import (
	"fmt"
	"sort"
	"strings"

	"taleweaver/internal/game"
	"taleweaver/internal/logging"
)

// Result reports what a migration did.
type Result struct {
	Migrated  bool
	ChangeLog []string
	Session   *game.Session
}

// NeedsMigration reports whether any character in the session carries a
// legacy inventory entry or a stat block without the gold field.
func NeedsMigration(s *game.Session) bool {
	for _, c := range s.Characters {
		if c.Stats.Gold < 0 {
			return true
		}
		for _, it := range c.Inventory {
			if it.Legacy || it.Category == "" {
				return true
			}
		}
	}
	return false
}

// MigrateSession upgrades the session in place and returns it with a
// human-readable change log. Running it on an already-migrated session is a
// no-op reporting Migrated=false with an empty log.
func MigrateSession(s *game.Session) Result {
	res := Result{Session: s}

	// Stable character order so the change log is deterministic.
	ids := make([]string, 0, len(s.Characters))
	for id := range s.Characters {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		c := s.Characters[id]

		for i := range c.Inventory {
			it := &c.Inventory[i]
			if !it.Legacy && it.Category != "" {
				continue
			}
			category, value := inferItem(it.Name)
			it.Category = category
			if it.Value == 0 {
				it.Value = value
			}
			it.Legacy = false
			res.log("%s: converted legacy item %q (category=%s, value=%d)",
				c.Name, it.Name, it.Category, it.Value)
		}

		if c.Stats.Gold < 0 {
			if c.IsPlayer {
				c.Stats.Gold = StartingGold(s.Config.UniverseName)
				res.log("%s: granted %d starting gold (%s bracket for %q)",
					c.Name, c.Stats.Gold, bracketName(s.Config.UniverseName), s.Config.UniverseName)
			} else {
				c.Stats.Gold = npcStartingGold
				res.log("%s: initialized gold to %d", c.Name, c.Stats.Gold)
			}
		}
	}

	if res.Migrated {
		logging.Migrate("migrated %s: %d changes", s.ID, len(res.ChangeLog))
	}
	return res
}

func (r *Result) log(format string, args ...interface{}) {
	r.Migrated = true
	r.ChangeLog = append(r.ChangeLog, fmt.Sprintf(format, args...))
}

// itemRule maps item-name keywords to a category and base value. Ordered;
// first match wins, same as the gold bracket table.
type itemRule struct {
	category string
	value    int
	keywords []string
}

var itemRules = []itemRule{
	{"weapon", 25, []string{"sword", "axe", "bow", "dagger", "knife", "spear", "blaster", "pistol", "gun", "rifle", "staff", "club", "mace"}},
	{"armor", 20, []string{"armor", "armour", "shield", "helmet", "helm", "mail", "cloak", "boots", "gauntlet"}},
	{"consumable", 5, []string{"potion", "elixir", "bread", "food", "ration", "herb", "bandage", "water"}},
	{"treasure", 50, []string{"gem", "jewel", "ring", "amulet", "coin", "crown", "relic"}},
	{"tool", 10, []string{"rope", "torch", "lantern", "lockpick", "map", "compass", "key"}},
}

// inferItem guesses a category and base value for a legacy item name.
// Unmatched names fall back to "misc".
func inferItem(name string) (string, int) {
	lower := strings.ToLower(name)
	for _, rule := range itemRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.category, rule.value
			}
		}
	}
	return "misc", 1
}
