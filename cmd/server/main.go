package main

import (
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/manpreetbhatti/easel/internal/api"
	"github.com/manpreetbhatti/easel/internal/compaction"
	"github.com/manpreetbhatti/easel/internal/config"
	"github.com/manpreetbhatti/easel/internal/db"
	"github.com/manpreetbhatti/easel/internal/discovery"
	"github.com/manpreetbhatti/easel/internal/ws"
)

const wsPath = "/ws"

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	var (
		database  *db.Database
		archive   ws.Archive
		retention *compaction.Service
	)
	if cfg.Archive {
		database, err = db.New(cfg.DBPath)
		if err != nil {
			log.Fatalf("Failed to initialize database: %v", err)
		}
		archive = database
		retention = compaction.New(database, cfg.Retention())
		retention.Start()
	}

	hubConfig := ws.DefaultConfig()
	hubConfig.LogCapacity = cfg.LogCapacity
	hub := ws.NewHub(archive, hubConfig)
	go hub.Run()

	var advertiser *discovery.Advertiser
	if cfg.MDNS {
		port, err := cfg.PortNumber()
		if err != nil {
			log.Fatalf("Invalid configuration: %v", err)
		}
		advertiser, err = discovery.Advertise(port, wsPath)
		if err != nil {
			log.Printf("⚠️ LAN discovery disabled: %v", err)
		}
	}

	apiHandler := api.New(hub, database, retention)

	http.HandleFunc(wsPath, func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWs(hub, w, r)
	})

	http.HandleFunc("/health", apiHandler.HealthHandler)
	http.HandleFunc("/api/stats", apiHandler.StatsHandler)
	http.HandleFunc("/api/rooms", apiHandler.RoomsRouter)
	http.HandleFunc("/api/rooms/", apiHandler.RoomsRouter)

	handler := corsMiddleware(http.DefaultServeMux)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")
		if advertiser != nil {
			advertiser.Shutdown()
		}
		hub.Stop()
		if retention != nil {
			retention.Stop()
		}
		if database != nil {
			database.Close()
		}
		os.Exit(0)
	}()

	log.Printf("🎨 Easel server starting on :%s", cfg.Port)
	if cfg.Archive {
		log.Printf("📁 Archive: %s", cfg.DBPath)
	} else {
		log.Println("📁 Archive: disabled")
	}
	log.Printf("📜 Operation log capacity: %d per room", cfg.LogCapacity)
	if advertiser != nil {
		log.Printf("📡 Advertising %s on the local network", discovery.ServiceType)
	}
	log.Println("Endpoints:")
	log.Println("  - WebSocket: " + wsPath)
	log.Println("  - Health:    GET /health")
	log.Println("  - Stats:     GET /api/stats")
	log.Println("  - Rooms:     GET /api/rooms")
	log.Println("  - Room:      GET/DELETE /api/rooms/{id}")
	log.Println("  - Strokes:   GET /api/rooms/{id}/strokes")
	log.Println("  - Compact:   POST /api/rooms/{id}/compact")

	if err := http.ListenAndServe(":"+cfg.Port, handler); err != nil {
		log.Fatal("ListenAndServe: ", err)
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
