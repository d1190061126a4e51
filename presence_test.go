package collab

import (
	"testing"

	"github.com/benbjohnson/clock"

	"github.com/go-playground/assert/v2"
)

func TestPresenceJoinLeave(t *testing.T) {
	registry := newPresenceRegistry(clock.NewMock(), "local")

	// no self presence
	assert.Equal(t, registry.add(ParticipantInfo{Id: "local", Username: "me"}), nil)
	assert.Equal(t, registry.size(), 0)

	participant := registry.add(ParticipantInfo{Id: "u2", Username: "bob"})
	assert.NotEqual(t, participant, nil)
	assert.Equal(t, participant.Username, "bob")
	assert.Equal(t, registry.size(), 1)

	username, ok := registry.remove("u2")
	assert.Equal(t, ok, true)
	assert.Equal(t, username, "bob")
	assert.Equal(t, registry.size(), 0)

	_, ok = registry.remove("u2")
	assert.Equal(t, ok, false)
}

func TestPresenceColorAssignment(t *testing.T) {
	registry := newPresenceRegistry(clock.NewMock(), "local")

	// the local editor takes the first palette slot, remotes follow
	// round-robin
	assert.Equal(t, registry.LocalColor(), participantPalette[0])

	for i := 0; i < len(participantPalette)+2; i += 1 {
		participant := registry.add(ParticipantInfo{
			Id:       string(rune('a' + i)),
			Username: "user",
		})
		assert.Equal(t, participant.Color, participantPalette[(i+1)%len(participantPalette)])
	}
}

func TestPresenceUpdateBeforeJoin(t *testing.T) {
	registry := newPresenceRegistry(clock.NewMock(), "local")

	// join/update ordering is not guaranteed across hops. updates for
	// unknown ids are no-ops, not errors
	_, ok := registry.update("u9", &Position{X: 1, Y: 2}, nil)
	assert.Equal(t, ok, false)
	assert.Equal(t, registry.size(), 0)
}

func TestPresenceUpdateMerge(t *testing.T) {
	registry := newPresenceRegistry(clock.NewMock(), "local")
	registry.add(ParticipantInfo{Id: "u2", Username: "bob"})

	participant, ok := registry.update("u2", &Position{X: 10, Y: 20}, nil)
	assert.Equal(t, ok, true)
	assert.Equal(t, *participant.Cursor, Position{X: 10, Y: 20})
	assert.Equal(t, participant.SelectedIds, []string(nil))

	// selection-only update keeps the cursor
	participant, ok = registry.update("u2", nil, []string{"w1", "w2"})
	assert.Equal(t, ok, true)
	assert.Equal(t, *participant.Cursor, Position{X: 10, Y: 20})
	assert.Equal(t, participant.SelectedIds, []string{"w1", "w2"})
}

func TestPresenceClearAndSnapshot(t *testing.T) {
	registry := newPresenceRegistry(clock.NewMock(), "local")
	registry.add(ParticipantInfo{Id: "b", Username: "bob"})
	registry.add(ParticipantInfo{Id: "a", Username: "alice"})

	snapshot := registry.snapshot()
	assert.Equal(t, len(snapshot), 2)
	assert.Equal(t, snapshot[0].UserId, "a")
	assert.Equal(t, snapshot[1].UserId, "b")

	// snapshots are copies, mutating one never reaches the registry
	snapshot[0].Username = "mallory"
	again := registry.snapshot()
	assert.Equal(t, again[0].Username, "alice")

	registry.clear()
	assert.Equal(t, registry.snapshot(), []*Participant{})
}
