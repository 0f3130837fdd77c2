package prefs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/manpreetbhatti/easel/internal/canvas"
	"github.com/manpreetbhatti/easel/internal/stroke"
)

// Remembered client settings
type Prefs struct {
	Server string  `toml:"server,omitempty"`
	Name   string  `toml:"name"`
	Room   string  `toml:"room"`
	Color  string  `toml:"color"`
	Width  float64 `toml:"width"`
	Tool   string  `toml:"tool"`
}

func Default() *Prefs {
	return &Prefs{
		Room:  "lobby",
		Color: canvas.DefaultColor,
		Width: canvas.DefaultWidth,
		Tool:  string(stroke.Brush),
	}
}

// Location of the preference file under the user's config directory
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config dir: %w", err)
	}
	return filepath.Join(dir, "easel", "prefs.toml"), nil
}

// Reads preferences from path. A missing file yields the defaults; fields
// absent from the file keep their default values.
func Load(path string) (*Prefs, error) {
	p := Default()
	if _, err := toml.DecodeFile(path, p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return p, nil
		}
		return nil, fmt.Errorf("read prefs %s: %w", path, err)
	}
	p.normalize()
	return p, nil
}

// Writes preferences to path, replacing the file atomically
func (p *Prefs) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create prefs dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".prefs-*.toml")
	if err != nil {
		return fmt.Errorf("create prefs file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := toml.NewEncoder(tmp).Encode(p); err != nil {
		tmp.Close()
		return fmt.Errorf("encode prefs: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write prefs: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace prefs: %w", err)
	}
	return nil
}

// Drawing tool, brush when the stored value is unknown
func (p *Prefs) Kind() stroke.Kind {
	if k := stroke.Kind(p.Tool); k.Valid() {
		return k
	}
	return stroke.Brush
}

func (p *Prefs) normalize() {
	if p.Width <= 0 {
		p.Width = canvas.DefaultWidth
	}
	if !stroke.Kind(p.Tool).Valid() {
		p.Tool = string(stroke.Brush)
	}
}
