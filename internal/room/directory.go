package room

import (
	"log"
	"sort"
)

// Directory maps room ids to rooms. Rooms are created on first use and
// dropped as soon as their last participant leaves. Like the logs it owns,
// it is driven from the relay's event loop and does no locking of its own.
type Directory struct {
	rooms       map[string]*Room
	logCapacity int
}

// Creates an empty directory whose rooms keep up to logCapacity operations
func NewDirectory(logCapacity int) *Directory {
	return &Directory{
		rooms:       make(map[string]*Room),
		logCapacity: logCapacity,
	}
}

// Returns the room with the given id, creating it when missing
func (d *Directory) GetOrCreate(id string) *Room {
	if r, ok := d.rooms[id]; ok {
		return r
	}
	r := NewRoom(id, d.logCapacity)
	d.rooms[id] = r
	log.Printf("Room %s created", id)
	return r
}

// Returns the room without creating it
func (d *Directory) Get(id string) (*Room, bool) {
	r, ok := d.rooms[id]
	return r, ok
}

// Adds p to the room, creating the room if needed
func (d *Directory) AddParticipant(roomID string, p Participant) *Room {
	r := d.GetOrCreate(roomID)
	r.participants[p.ConnectionID] = p
	return r
}

// Removes the participant and deletes the room once it is empty.
// Reports the removed participant and whether one was found.
func (d *Directory) RemoveParticipant(roomID, connectionID string) (Participant, bool) {
	r, ok := d.rooms[roomID]
	if !ok {
		return Participant{}, false
	}
	p, ok := r.participants[connectionID]
	if !ok {
		return Participant{}, false
	}
	delete(r.participants, connectionID)

	if len(r.participants) == 0 {
		delete(d.rooms, roomID)
		log.Printf("Room %s closed (empty)", roomID)
	}
	return p, true
}

// Participants of a room in join order; empty for unknown rooms
func (d *Directory) Participants(roomID string) []Participant {
	r, ok := d.rooms[roomID]
	if !ok {
		return []Participant{}
	}
	return r.Participants()
}

// Sorted ids of the live rooms
func (d *Directory) RoomIDs() []string {
	ids := make([]string, 0, len(d.rooms))
	for id := range d.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (d *Directory) Len() int {
	return len(d.rooms)
}

// Total participants across rooms
func (d *Directory) ParticipantCount() int {
	n := 0
	for _, r := range d.rooms {
		n += len(r.participants)
	}
	return n
}
