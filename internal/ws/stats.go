package ws

import (
	"time"

	"github.com/manpreetbhatti/easel/internal/oplog"
	"github.com/manpreetbhatti/easel/internal/protocol"
)

// Point-in-time view of one live room
type RoomInfo struct {
	ID           string                 `json:"id"`
	CreatedAt    time.Time              `json:"createdAt"`
	Participants []protocol.Participant `json:"participants"`
	Operations   oplog.Stats            `json:"operations"`
	LogCapacity  int                    `json:"logCapacity"`
}

func (h *Hub) GetRoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.directory.Len()
}

func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Participant count per live room
func (h *Hub) GetActiveRooms() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rooms := make(map[string]int)
	for _, id := range h.directory.RoomIDs() {
		rooms[id] = len(h.directory.Participants(id))
	}
	return rooms
}

func (h *Hub) GetRoomInfo(roomID string) (*RoomInfo, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	r, ok := h.directory.Get(roomID)
	if !ok {
		return nil, false
	}
	return &RoomInfo{
		ID:           r.ID,
		CreatedAt:    r.CreatedAt,
		Participants: participantList(r.Participants()),
		Operations:   r.Log.Stats(),
		LogCapacity:  r.Log.Capacity(),
	}, true
}
