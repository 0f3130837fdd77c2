package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/manpreetbhatti/easel/internal/compaction"
	"github.com/manpreetbhatti/easel/internal/oplog"
)

// Server settings, read from the environment
type Server struct {
	Port        string
	LogCapacity int

	// Stroke archive
	Archive bool
	DBPath  string

	// Archive retention
	RetentionInterval  time.Duration
	RetentionThreshold int
	RetentionKeep      int
	RetentionMaxIdle   time.Duration

	// Advertise the relay on the local network
	MDNS bool
}

func Default() Server {
	retention := compaction.DefaultConfig()
	return Server{
		Port:               "8080",
		LogCapacity:        oplog.DefaultCapacity,
		Archive:            true,
		DBPath:             "./data/easel.db",
		RetentionInterval:  retention.Interval,
		RetentionThreshold: retention.StrokeThreshold,
		RetentionKeep:      retention.KeepRecentStrokes,
		MDNS:               false,
	}
}

// Reads the process environment
func FromEnv() (Server, error) {
	return Load(os.Getenv)
}

// Builds the configuration from getenv, falling back to defaults for unset
// variables. Malformed values are errors.
func Load(getenv func(string) string) (Server, error) {
	c := Default()
	var err error

	if v := getenv("PORT"); v != "" {
		c.Port = v
	}
	if v := getenv("EASEL_DB_PATH"); v != "" {
		c.DBPath = v
	}
	if c.LogCapacity, err = intVar(getenv, "EASEL_LOG_CAPACITY", c.LogCapacity); err != nil {
		return c, err
	}
	if c.Archive, err = boolVar(getenv, "EASEL_ARCHIVE", c.Archive); err != nil {
		return c, err
	}
	if c.MDNS, err = boolVar(getenv, "EASEL_MDNS", c.MDNS); err != nil {
		return c, err
	}
	if c.RetentionInterval, err = durationVar(getenv, "EASEL_RETENTION_INTERVAL", c.RetentionInterval); err != nil {
		return c, err
	}
	if c.RetentionThreshold, err = intVar(getenv, "EASEL_RETENTION_THRESHOLD", c.RetentionThreshold); err != nil {
		return c, err
	}
	if c.RetentionKeep, err = intVar(getenv, "EASEL_RETENTION_KEEP", c.RetentionKeep); err != nil {
		return c, err
	}
	if c.RetentionMaxIdle, err = durationVar(getenv, "EASEL_RETENTION_MAX_IDLE", c.RetentionMaxIdle); err != nil {
		return c, err
	}

	if c.LogCapacity <= 0 {
		return c, fmt.Errorf("EASEL_LOG_CAPACITY must be positive, got %d", c.LogCapacity)
	}
	if c.RetentionInterval <= 0 {
		return c, fmt.Errorf("EASEL_RETENTION_INTERVAL must be positive, got %v", c.RetentionInterval)
	}
	if c.RetentionMaxIdle < 0 {
		return c, fmt.Errorf("EASEL_RETENTION_MAX_IDLE must not be negative, got %v", c.RetentionMaxIdle)
	}
	return c, nil
}

// Port as a number, for service advertisement
func (c Server) PortNumber() (int, error) {
	port, err := strconv.Atoi(strings.TrimPrefix(c.Port, ":"))
	if err != nil {
		return 0, fmt.Errorf("invalid PORT %q: %w", c.Port, err)
	}
	return port, nil
}

func (c Server) Retention() compaction.Config {
	return compaction.Config{
		Interval:          c.RetentionInterval,
		StrokeThreshold:   c.RetentionThreshold,
		KeepRecentStrokes: c.RetentionKeep,
		MaxIdle:           c.RetentionMaxIdle,
	}
}

func intVar(getenv func(string) string, key string, def int) (int, error) {
	v := getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func boolVar(getenv func(string) string, key string, def bool) (bool, error) {
	v := getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return b, nil
}

func durationVar(getenv func(string) string, key string, def time.Duration) (time.Duration, error) {
	v := getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}
