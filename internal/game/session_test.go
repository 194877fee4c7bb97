package game

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSession() *Session {
	return &Session{
		ID:                "s1",
		PlayerCharacterID: "pc",
		CurrentLocationID: "loc",
		Characters: map[string]*Character{
			"pc":  {ID: "pc", Name: "Aria", IsPlayer: true},
			"npc": {ID: "npc", Name: "Grix"},
		},
		Locations: map[string]*Location{
			"loc": {ID: "loc", Name: "Bridge"},
		},
	}
}

func TestSessionValidate(t *testing.T) {
	assert.NoError(t, validSession().Validate())

	t.Run("no player", func(t *testing.T) {
		s := validSession()
		s.Characters["pc"].IsPlayer = false
		assert.ErrorIs(t, s.Validate(), ErrNoPlayer)
	})

	t.Run("two players", func(t *testing.T) {
		s := validSession()
		s.Characters["npc"].IsPlayer = true
		assert.ErrorIs(t, s.Validate(), ErrManyPlayers)
	})

	t.Run("dangling player ref", func(t *testing.T) {
		s := validSession()
		s.PlayerCharacterID = "ghost"
		assert.ErrorIs(t, s.Validate(), ErrBadPlayerRef)
	})

	t.Run("player ref to npc", func(t *testing.T) {
		s := validSession()
		s.PlayerCharacterID = "npc"
		assert.ErrorIs(t, s.Validate(), ErrBadPlayerRef)
	})

	t.Run("dangling location ref", func(t *testing.T) {
		s := validSession()
		s.CurrentLocationID = "nowhere"
		assert.ErrorIs(t, s.Validate(), ErrBadLocationRef)
	})
}

func TestTrailingMessages(t *testing.T) {
	s := validSession()
	for i := 0; i < 5; i++ {
		s.Messages = append(s.Messages, Message{ID: string(rune('a' + i))})
	}

	assert.Len(t, s.TrailingMessages(3), 3)
	assert.Equal(t, "c", s.TrailingMessages(3)[0].ID)
	assert.Len(t, s.TrailingMessages(10), 5)
	assert.Len(t, s.TrailingMessages(0), 5)
}

func TestMarkViewed(t *testing.T) {
	s := validSession()
	s.Messages = []Message{{ID: "m1"}, {ID: "m2"}, {ID: "m3"}}

	s.MarkViewed("m2")
	assert.True(t, s.Messages[0].Viewed)
	assert.True(t, s.Messages[1].Viewed)
	assert.False(t, s.Messages[2].Viewed)
}

func TestClone_Isolated(t *testing.T) {
	s := validSession()
	s.Characters["pc"].Stats = Stats{HP: 90, MaxHP: 100, Gold: 10}
	s.Messages = []Message{{ID: "m1", Text: "hello", Timestamp: time.Now().UTC()}}

	c := s.Clone()
	require.NotNil(t, c)
	c.Characters["pc"].Stats.HP = 1
	c.Messages[0].Text = "changed"

	assert.Equal(t, 90, s.Characters["pc"].Stats.HP)
	assert.Equal(t, "hello", s.Messages[0].Text)
}

func TestStatsUnmarshal_LegacyGoldSentinel(t *testing.T) {
	var withGold Stats
	require.NoError(t, json.Unmarshal([]byte(`{"hp": 50, "max_hp": 100, "gold": 0}`), &withGold))
	assert.Equal(t, 0, withGold.Gold, "explicit zero stays zero")

	var legacy Stats
	require.NoError(t, json.Unmarshal([]byte(`{"hp": 50, "max_hp": 100}`), &legacy))
	assert.Equal(t, -1, legacy.Gold, "missing gold marks a legacy record")
}

func TestItemUnmarshal_LegacyString(t *testing.T) {
	var items []Item
	require.NoError(t, json.Unmarshal([]byte(`["rusty sword", {"name": "gem", "category": "treasure", "value": 50}]`), &items))
	require.Len(t, items, 2)
	assert.True(t, items[0].Legacy)
	assert.Equal(t, "rusty sword", items[0].Name)
	assert.False(t, items[1].Legacy)
	assert.Equal(t, "treasure", items[1].Category)
}
