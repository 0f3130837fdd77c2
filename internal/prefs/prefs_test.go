package prefs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/manpreetbhatti/easel/internal/stroke"
)

func TestLoadMissingFile(t *testing.T) {
	p, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if p.Room != "lobby" || p.Width != 5 || p.Kind() != stroke.Brush {
		t.Errorf("Expected defaults, got %+v", p)
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "prefs.toml")

	p := Default()
	p.Name = "Alice"
	p.Room = "studio"
	p.Color = "#ff6b6b"
	p.Width = 12
	p.Tool = string(stroke.Rect)

	if err := p.Save(path); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load: %v", err)
	}
	if *got != *p {
		t.Errorf("Expected %+v, got %+v", p, got)
	}
}

func TestLoadPartialAndInvalid(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		wantName  string
		wantWidth float64
		wantTool  stroke.Kind
		wantErr   bool
	}{
		{"name only", `name = "Bob"`, "Bob", 5, stroke.Brush, false},
		{"unknown tool", "tool = \"spray\"\nwidth = 3", "", 3, stroke.Brush, false},
		{"negative width", `width = -1`, "", 5, stroke.Brush, false},
		{"eraser", `tool = "eraser"`, "", 5, stroke.Eraser, false},
		{"malformed", `name = `, "", 0, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "prefs.toml")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatalf("Failed to write file: %v", err)
			}

			p, err := Load(path)
			if tt.wantErr {
				if err == nil {
					t.Error("Expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if p.Name != tt.wantName || p.Width != tt.wantWidth || p.Kind() != tt.wantTool {
				t.Errorf("Unexpected prefs: %+v", p)
			}
		})
	}
}
