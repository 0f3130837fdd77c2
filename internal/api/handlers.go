package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/manpreetbhatti/easel/internal/compaction"
	"github.com/manpreetbhatti/easel/internal/db"
	"github.com/manpreetbhatti/easel/internal/oplog"
	"github.com/manpreetbhatti/easel/internal/protocol"
	"github.com/manpreetbhatti/easel/internal/ws"
)

// API exposes read-only views of the relay plus archive maintenance.
// database and retention are nil when archiving is disabled.
type API struct {
	hub       *ws.Hub
	database  *db.Database
	retention *compaction.Service
}

func New(hub *ws.Hub, database *db.Database, retention *compaction.Service) *API {
	return &API{
		hub:       hub,
		database:  database,
		retention: retention,
	}
}

func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

func pagination(r *http.Request, defaultLimit, maxLimit int) (int, int) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > maxLimit {
		limit = defaultLimit
	}

	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"active_rooms":   a.hub.GetRoomCount(),
		"active_clients": a.hub.GetClientCount(),
		"archive":        a.database != nil,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}

	if a.database != nil {
		dbStats, err := a.database.GetStats()
		if err == nil {
			stats["archived_rooms"] = dbStats.RoomCount
			stats["archived_strokes"] = dbStats.StrokeCount
			stats["archived_undone"] = dbStats.UndoneCount
		}
	}

	jsonResponse(w, http.StatusOK, stats)
}

// Room handlers

type RoomResponse struct {
	ID           string                 `json:"id"`
	Live         bool                   `json:"live"`
	ActiveUsers  int                    `json:"active_users"`
	Participants []protocol.Participant `json:"participants,omitempty"`
	Operations   *oplog.Stats           `json:"operations,omitempty"`
	LogCapacity  int                    `json:"log_capacity,omitempty"`
	CreatedAt    *time.Time             `json:"created_at,omitempty"`
	ArchivedAt   *time.Time             `json:"archived_at,omitempty"`
	UpdatedAt    *time.Time             `json:"updated_at,omitempty"`
	StrokeCount  int                    `json:"stroke_count,omitempty"`
}

func (a *API) ListRoomsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	limit, offset := pagination(r, 20, 100)
	activeRooms := a.hub.GetActiveRooms()

	live := make([]RoomResponse, 0, len(activeRooms))
	for id, users := range activeRooms {
		live = append(live, RoomResponse{ID: id, Live: true, ActiveUsers: users})
	}
	sortRooms(live)

	response := map[string]interface{}{
		"rooms":  live,
		"limit":  limit,
		"offset": offset,
	}

	if a.database != nil {
		rooms, err := a.database.ListRooms(limit, offset)
		if err != nil {
			errorResponse(w, http.StatusInternalServerError, "Failed to list rooms")
			return
		}

		archived := make([]RoomResponse, len(rooms))
		for i, room := range rooms {
			users, isLive := activeRooms[room.ID]
			archived[i] = RoomResponse{
				ID:          room.ID,
				Live:        isLive,
				ActiveUsers: users,
				ArchivedAt:  timePtr(room.CreatedAt),
				UpdatedAt:   timePtr(room.UpdatedAt),
			}
		}
		response["archived"] = archived
	}

	jsonResponse(w, http.StatusOK, response)
}

func (a *API) GetRoomHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	roomID := roomIDFromPath(r.URL.Path, "")
	if roomID == "" {
		errorResponse(w, http.StatusBadRequest, "Room ID is required")
		return
	}

	response := RoomResponse{ID: roomID}
	found := false

	if info, ok := a.hub.GetRoomInfo(roomID); ok {
		found = true
		response.Live = true
		response.ActiveUsers = len(info.Participants)
		response.Participants = info.Participants
		response.Operations = &info.Operations
		response.LogCapacity = info.LogCapacity
		response.CreatedAt = timePtr(info.CreatedAt)
	}

	if a.database != nil {
		room, err := a.database.GetRoom(roomID)
		if err != nil {
			errorResponse(w, http.StatusInternalServerError, "Failed to get room")
			return
		}
		if room != nil {
			found = true
			response.ArchivedAt = timePtr(room.CreatedAt)
			response.UpdatedAt = timePtr(room.UpdatedAt)
			response.StrokeCount, _ = a.database.GetStrokeCount(roomID)
		}
	}

	if !found {
		errorResponse(w, http.StatusNotFound, "Room not found")
		return
	}

	jsonResponse(w, http.StatusOK, response)
}

// Removes a room's archive. Live state is untouched.
func (a *API) DeleteRoomHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if a.database == nil {
		errorResponse(w, http.StatusServiceUnavailable, "Archive is disabled")
		return
	}

	roomID := roomIDFromPath(r.URL.Path, "")
	if roomID == "" {
		errorResponse(w, http.StatusBadRequest, "Room ID is required")
		return
	}

	if err := a.database.DeleteRoom(roomID); err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to delete room")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]string{"message": "Room archive deleted"})
}

// Archived strokes of a room, oldest first
func (a *API) ListStrokesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if a.database == nil {
		errorResponse(w, http.StatusServiceUnavailable, "Archive is disabled")
		return
	}

	roomID := roomIDFromPath(r.URL.Path, "/strokes")
	if roomID == "" {
		errorResponse(w, http.StatusBadRequest, "Room ID is required")
		return
	}

	limit, offset := pagination(r, 100, 1000)

	strokes, err := a.database.GetStrokes(roomID, limit, offset)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to list strokes")
		return
	}
	if strokes == nil {
		strokes = []db.StrokeRecord{}
	}

	total, _ := a.database.GetStrokeCount(roomID)

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"strokes": strokes,
		"total":   total,
		"limit":   limit,
		"offset":  offset,
	})
}

// Runs archive retention for one room immediately
func (a *API) CompactRoomHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if a.retention == nil {
		errorResponse(w, http.StatusServiceUnavailable, "Archive is disabled")
		return
	}

	roomID := roomIDFromPath(r.URL.Path, "/compact")
	if roomID == "" {
		errorResponse(w, http.StatusBadRequest, "Room ID is required")
		return
	}

	trimmed, err := a.retention.CompactNow(roomID)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to compact room")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"room_id": roomID,
		"trimmed": trimmed,
	})
}

func (a *API) RoomsRouter(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/rooms")

	// /api/rooms or /api/rooms/
	if path == "" || path == "/" {
		a.ListRoomsHandler(w, r)
		return
	}

	// /api/rooms/{id}/strokes
	if strings.HasSuffix(strings.TrimSuffix(path, "/"), "/strokes") {
		a.ListStrokesHandler(w, r)
		return
	}

	// /api/rooms/{id}/compact
	if strings.HasSuffix(strings.TrimSuffix(path, "/"), "/compact") {
		a.CompactRoomHandler(w, r)
		return
	}

	// /api/rooms/{id}
	switch r.Method {
	case http.MethodGet:
		a.GetRoomHandler(w, r)
	case http.MethodDelete:
		a.DeleteRoomHandler(w, r)
	default:
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// Extracts {id} from /api/rooms/{id}{suffix}
func roomIDFromPath(path, suffix string) string {
	path = strings.TrimPrefix(path, "/api/rooms/")
	path = strings.TrimSuffix(path, "/")
	path = strings.TrimSuffix(path, suffix)
	if strings.Contains(path, "/") {
		return ""
	}
	return path
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func sortRooms(rooms []RoomResponse) {
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID < rooms[j].ID })
}
