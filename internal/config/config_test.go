package config

import (
	"testing"
	"time"
)

func env(vars map[string]string) func(string) string {
	return func(key string) string { return vars[key] }
}

func TestLoadDefaults(t *testing.T) {
	c, err := Load(env(nil))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if c != Default() {
		t.Errorf("Expected defaults, got %+v", c)
	}
	if c.Port != "8080" || !c.Archive || c.MDNS {
		t.Errorf("Unexpected defaults: %+v", c)
	}
}

func TestLoadOverrides(t *testing.T) {
	c, err := Load(env(map[string]string{
		"PORT":                      "9000",
		"EASEL_DB_PATH":             "/tmp/e.db",
		"EASEL_LOG_CAPACITY":        "500",
		"EASEL_ARCHIVE":             "false",
		"EASEL_MDNS":                "1",
		"EASEL_RETENTION_INTERVAL":  "30s",
		"EASEL_RETENTION_THRESHOLD": "100",
		"EASEL_RETENTION_KEEP":      "40",
		"EASEL_RETENTION_MAX_IDLE":  "72h",
	}))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	want := Server{
		Port:               "9000",
		LogCapacity:        500,
		Archive:            false,
		DBPath:             "/tmp/e.db",
		RetentionInterval:  30 * time.Second,
		RetentionThreshold: 100,
		RetentionKeep:      40,
		RetentionMaxIdle:   72 * time.Hour,
		MDNS:               true,
	}
	if c != want {
		t.Errorf("Expected %+v, got %+v", want, c)
	}

	r := c.Retention()
	if r.Interval != 30*time.Second || r.StrokeThreshold != 100 || r.KeepRecentStrokes != 40 || r.MaxIdle != 72*time.Hour {
		t.Errorf("Unexpected retention config: %+v", r)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"capacity not a number", "EASEL_LOG_CAPACITY", "lots"},
		{"capacity zero", "EASEL_LOG_CAPACITY", "0"},
		{"archive not a bool", "EASEL_ARCHIVE", "maybe"},
		{"mdns not a bool", "EASEL_MDNS", "yes please"},
		{"interval without unit", "EASEL_RETENTION_INTERVAL", "30"},
		{"interval negative", "EASEL_RETENTION_INTERVAL", "-1m"},
		{"keep not a number", "EASEL_RETENTION_KEEP", "ten"},
		{"max idle negative", "EASEL_RETENTION_MAX_IDLE", "-2h"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(env(map[string]string{tt.key: tt.val})); err == nil {
				t.Errorf("Expected an error for %s=%q", tt.key, tt.val)
			}
		})
	}
}

func TestPortNumber(t *testing.T) {
	tests := []struct {
		port    string
		want    int
		wantErr bool
	}{
		{"8080", 8080, false},
		{":9000", 9000, false},
		{"http", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.port, func(t *testing.T) {
			got, err := Server{Port: tt.port}.PortNumber()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Expected error %v, got %v", tt.wantErr, err)
			}
			if got != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, got)
			}
		})
	}
}
