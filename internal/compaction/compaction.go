package compaction

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/manpreetbhatti/easel/internal/db"
)

const roomPage = 500

// Archive retention settings. Rooms whose archive reaches StrokeThreshold are
// trimmed down to their KeepRecentStrokes newest strokes. Rooms nobody has
// drawn in for MaxIdle are dropped from the archive; zero keeps them forever.
type Config struct {
	Interval          time.Duration
	StrokeThreshold   int
	KeepRecentStrokes int
	MaxIdle           time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval:          5 * time.Minute,
		StrokeThreshold:   20000,
		KeepRecentStrokes: 10000,
	}
}

// Result of one retention pass
type Report struct {
	RoomsTrimmed   int
	StrokesDropped int64
	RoomsExpired   int
}

// Service applies the retention policy to the stroke archive on a ticker
type Service struct {
	database *db.Database
	config   Config
	now      func() time.Time
	stop     chan struct{}
	wg       sync.WaitGroup
}

func New(database *db.Database, config Config) *Service {
	if config.KeepRecentStrokes > config.StrokeThreshold {
		config.KeepRecentStrokes = config.StrokeThreshold
	}
	return &Service{
		database: database,
		config:   config,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
}

func (s *Service) Start() {
	s.wg.Add(1)
	go s.run()
	log.Printf("🗜️ Archive retention started (interval: %v, threshold: %d strokes, max idle: %v)",
		s.config.Interval, s.config.StrokeThreshold, s.config.MaxIdle)
}

func (s *Service) Stop() {
	close(s.stop)
	s.wg.Wait()
	log.Println("🗜️ Archive retention stopped")
}

func (s *Service) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.logPass()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.logPass()
		}
	}
}

func (s *Service) logPass() {
	report, err := s.RunOnce()
	if err != nil {
		log.Printf("⚠️ Retention pass incomplete: %v", err)
	}
	if report.RoomsTrimmed > 0 || report.RoomsExpired > 0 {
		log.Printf("🗜️ Retention: trimmed %d rooms (%d strokes), expired %d idle rooms",
			report.RoomsTrimmed, report.StrokesDropped, report.RoomsExpired)
	}
}

// Applies the policy to every archived room. Rooms that fail are skipped
// and the first error is returned with the partial report.
func (s *Service) RunOnce() (Report, error) {
	var report Report
	var firstErr error
	fail := func(err error) {
		if firstErr == nil {
			firstErr = err
		}
	}

	var rooms []db.Room
	for offset := 0; ; offset += roomPage {
		page, err := s.database.ListRooms(roomPage, offset)
		if err != nil {
			return report, fmt.Errorf("list archived rooms: %w", err)
		}
		rooms = append(rooms, page...)
		if len(page) < roomPage {
			break
		}
	}

	cutoff := s.now().Add(-s.config.MaxIdle)
	for _, room := range rooms {
		if s.config.MaxIdle > 0 && room.UpdatedAt.Before(cutoff) {
			if err := s.database.DeleteRoom(room.ID); err != nil {
				fail(fmt.Errorf("expire room %s: %w", room.ID, err))
				continue
			}
			report.RoomsExpired++
			continue
		}

		dropped, err := s.trimRoom(room.ID)
		if err != nil {
			fail(err)
			continue
		}
		if dropped > 0 {
			report.RoomsTrimmed++
			report.StrokesDropped += dropped
		}
	}
	return report, firstErr
}

func (s *Service) trimRoom(roomID string) (int64, error) {
	count, err := s.database.GetStrokeCount(roomID)
	if err != nil {
		return 0, fmt.Errorf("count strokes of room %s: %w", roomID, err)
	}
	if count < s.config.StrokeThreshold {
		return 0, nil
	}

	dropped, err := s.database.DeleteStrokesBefore(roomID, s.config.KeepRecentStrokes)
	if err != nil {
		return 0, fmt.Errorf("trim room %s: %w", roomID, err)
	}
	log.Printf("🗜️ Trimmed room %s: %d strokes → %d kept", roomID, count, count-int(dropped))
	return dropped, nil
}

// Trims one room immediately and returns how many strokes were dropped
func (s *Service) CompactNow(roomID string) (int64, error) {
	return s.trimRoom(roomID)
}
