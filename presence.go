package collab

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// display colors handed out round-robin. The palette is larger than a
// typical concurrent session, so collisions only happen after it wraps.
var participantPalette = []string{
	"#F24E1E",
	"#FF7262",
	"#A259FF",
	"#1ABCFE",
	"#0ACF83",
	"#FFC700",
	"#699BF7",
	"#9747FF",
	"#14AE5C",
	"#F5A623",
	"#50E3C2",
	"#B8E986",
}

// Participant is a remote editor in the current canvas. Records are scoped
// to the room and cleared on leave or disconnect.
type Participant struct {
	UserId       string
	Username     string
	Avatar       string
	Color        string
	Cursor       *Position
	SelectedIds  []string
	LastActiveAt time.Time
}

func (self *Participant) copy() *Participant {
	out := *self
	if self.Cursor != nil {
		cursor := *self.Cursor
		out.Cursor = &cursor
	}
	out.SelectedIds = slices.Clone(self.SelectedIds)
	return &out
}

// presenceRegistry is the sole owner of remote participant records.
type presenceRegistry struct {
	clk         clock.Clock
	localUserId string

	mutex        sync.Mutex
	participants map[string]*Participant
	colorIndex   int
	localColor   string
}

func newPresenceRegistry(clk clock.Clock, localUserId string) *presenceRegistry {
	registry := &presenceRegistry{
		clk:          clk,
		localUserId:  localUserId,
		participants: map[string]*Participant{},
	}
	// the local editor draws from the same palette counter
	registry.localColor = registry.nextColor()
	return registry
}

// nextColor must be called with the lock held, except from the constructor.
func (self *presenceRegistry) nextColor() string {
	color := participantPalette[self.colorIndex%len(participantPalette)]
	self.colorIndex += 1
	return color
}

func (self *presenceRegistry) LocalColor() string {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.localColor
}

// add inserts or overwrites a remote participant. Joins for the local user
// are ignored, there is no self presence. Returns nil when ignored.
func (self *presenceRegistry) add(info ParticipantInfo) *Participant {
	if info.Id == "" || info.Id == self.localUserId {
		return nil
	}

	self.mutex.Lock()
	defer self.mutex.Unlock()

	color := ""
	if existing, ok := self.participants[info.Id]; ok {
		// keep the color stable across rejoin
		color = existing.Color
	} else {
		color = self.nextColor()
	}
	participant := &Participant{
		UserId:       info.Id,
		Username:     info.Username,
		Avatar:       info.Avatar,
		Color:        color,
		LastActiveAt: self.clk.Now(),
	}
	self.participants[info.Id] = participant
	return participant.copy()
}

// remove drops the record and reports the last known username so
// downstream subscribers can render a departure message.
func (self *presenceRegistry) remove(userId string) (username string, ok bool) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	participant, ok := self.participants[userId]
	if !ok {
		return "", false
	}
	delete(self.participants, userId)
	return participant.Username, true
}

// update merges cursor and selection into an existing record. An update
// for an unknown id is a no-op: join and update ordering is not guaranteed
// across network hops, and a record without a username would be useless
// downstream.
func (self *presenceRegistry) update(userId string, cursor *Position, selectedIds []string) (*Participant, bool) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	participant, ok := self.participants[userId]
	if !ok {
		return nil, false
	}
	if cursor != nil {
		c := *cursor
		participant.Cursor = &c
	}
	if selectedIds != nil {
		participant.SelectedIds = slices.Clone(selectedIds)
	}
	participant.LastActiveAt = self.clk.Now()
	return participant.copy(), true
}

func (self *presenceRegistry) clear() {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	maps.Clear(self.participants)
}

// snapshot returns copies ordered by user id.
func (self *presenceRegistry) snapshot() []*Participant {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	participants := maps.Values(self.participants)
	slices.SortFunc(participants, func(a *Participant, b *Participant) int {
		if a.UserId < b.UserId {
			return -1
		} else if b.UserId < a.UserId {
			return 1
		}
		return 0
	})
	out := make([]*Participant, 0, len(participants))
	for _, participant := range participants {
		out = append(out, participant.copy())
	}
	return out
}

func (self *presenceRegistry) size() int {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return len(self.participants)
}
