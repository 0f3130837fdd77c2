package main

import (
	"context"
	"flag"
	"log"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/manpreetbhatti/easel/internal/client"
	"github.com/manpreetbhatti/easel/internal/discovery"
	"github.com/manpreetbhatti/easel/internal/prefs"
)

func main() {
	prefsPath, err := prefs.DefaultPath()
	if err != nil {
		log.Printf("⚠️ Preferences unavailable: %v", err)
	}
	stored := prefs.Default()
	if prefsPath != "" {
		if stored, err = prefs.Load(prefsPath); err != nil {
			log.Printf("⚠️ Ignoring preferences: %v", err)
			stored = prefs.Default()
		}
	}

	serverURL := flag.String("server", stored.Server, "relay websocket URL (empty: discover on the local network)")
	room := flag.String("room", stored.Room, "room to join")
	name := flag.String("name", stored.Name, "display name")
	color := flag.String("color", stored.Color, "stroke color (#rrggbb or a color name)")
	width := flag.Float64("width", stored.Width, "stroke width")
	tool := flag.String("tool", stored.Tool, "drawing tool: brush, eraser or rect")
	demo := flag.Bool("demo", false, "draw a demo stroke after joining")
	duration := flag.Duration("duration", 0, "leave after this long (0: until interrupted)")
	save := flag.Bool("save", true, "remember name, room and tool settings")
	flag.Parse()

	if *serverURL == "" {
		log.Println("📡 Looking for relays on the local network...")
		peers, err := discovery.Browse(3 * time.Second)
		if err != nil {
			log.Fatalf("Discovery failed: %v", err)
		}
		if len(peers) == 0 {
			log.Fatal("No relay found; pass -server")
		}
		*serverURL = peers[0].URL()
		log.Printf("📡 Found %s at %s", peers[0].Name, *serverURL)
	}

	current := &prefs.Prefs{
		Server: *serverURL,
		Name:   *name,
		Room:   *room,
		Color:  *color,
		Width:  *width,
		Tool:   *tool,
	}
	if *save && prefsPath != "" {
		if err := current.Save(prefsPath); err != nil {
			log.Printf("⚠️ Failed to save preferences: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	session, err := client.Dial(ctx, client.Config{
		URL:      *serverURL,
		RoomID:   *room,
		UserName: *name,
		Color:    *color,
	})
	if err != nil {
		cancel()
		log.Fatalf("Failed to connect: %v", err)
	}
	err = session.WaitReady(ctx)
	cancel()
	if err != nil {
		log.Fatalf("Failed to join: %v", err)
	}
	defer session.Close()

	log.Printf("🎨 Joined room %s as %s", session.RoomID(), session.UserID())
	for _, p := range session.Participants() {
		log.Printf("  - %s (%s)", p.UserName, p.Color)
	}

	session.SetTool(current.Kind())
	session.SetColor(*color)
	session.SetWidth(*width)

	if *demo {
		if err := drawSpiral(session, client.DefaultWidth/2, client.DefaultHeight/2); err != nil {
			log.Printf("⚠️ Demo stroke failed: %v", err)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var timeout <-chan time.Time
	if *duration > 0 {
		timeout = time.After(*duration)
	}

	select {
	case <-sigChan:
	case <-timeout:
	case <-session.Done():
		if err := session.Err(); err != nil {
			log.Printf("⚠️ Disconnected: %v", err)
		}
	}
	log.Println("Leaving room...")
}

func drawSpiral(s *client.Session, cx, cy float64) error {
	if err := s.PointerDown(cx, cy); err != nil {
		return err
	}
	for i := 1; i <= 60; i++ {
		angle := float64(i) * 0.3
		radius := float64(i) * 2
		x := cx + radius*math.Cos(angle)
		y := cy + radius*math.Sin(angle)
		if err := s.PointerMove(x, y); err != nil {
			return err
		}
		s.MoveCursor(x, y)
		time.Sleep(10 * time.Millisecond)
	}
	return s.PointerLeave()
}
