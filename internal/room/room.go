package room

import (
	"sort"
	"time"

	"github.com/manpreetbhatti/easel/internal/oplog"
)

// A connected member of a room. ConnectionID attributes strokes, undo
// targets and cursor updates.
type Participant struct {
	ConnectionID string
	UserID       string
	DisplayName  string
	Color        string
	JoinedAt     time.Time
}

// A collaboration session: its participants and the log they share
type Room struct {
	ID           string
	Log          *oplog.Log
	CreatedAt    time.Time
	participants map[string]Participant
}

// Creates an empty room with its own operation log
func NewRoom(id string, logCapacity int) *Room {
	return &Room{
		ID:           id,
		Log:          oplog.New(logCapacity),
		CreatedAt:    time.Now(),
		participants: make(map[string]Participant),
	}
}

// Returns the participant connected as connectionID
func (r *Room) Participant(connectionID string) (Participant, bool) {
	p, ok := r.participants[connectionID]
	return p, ok
}

// Returns participants in join order
func (r *Room) Participants() []Participant {
	list := make([]Participant, 0, len(r.participants))
	for _, p := range r.participants {
		list = append(list, p)
	}
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].JoinedAt.Equal(list[j].JoinedAt) {
			return list[i].ConnectionID < list[j].ConnectionID
		}
		return list[i].JoinedAt.Before(list[j].JoinedAt)
	})
	return list
}

func (r *Room) Size() int {
	return len(r.participants)
}
