package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pelletier/go-toml/v2"
)

const maxPresetNameLength = 80

// ErrPresetNotFound is returned when a named preset does not exist.
var ErrPresetNotFound = errors.New("preset not found")

// Preset is a named configuration snapshot.
type Preset struct {
	Name      string `toml:"-"`
	UpdatedAt string `toml:"updated_at"`
	Config    Config `toml:"config"`
}

type presetFile struct {
	Presets map[string]Preset `toml:"presets"`
}

// PresetStore persists named presets in a single TOML file.
type PresetStore struct {
	path string
	now  func() time.Time
}

// NewPresetStore returns a store backed by path.
func NewPresetStore(path string) *PresetStore {
	return &PresetStore{path: path, now: time.Now}
}

// NormalizePresetName trims name and enforces the length limit.
func NormalizePresetName(name string) (string, error) {
	normalized := strings.TrimSpace(name)
	if normalized == "" {
		return "", errors.New("preset name is required")
	}
	if utf8.RuneCountInString(normalized) > maxPresetNameLength {
		return "", fmt.Errorf("preset name too long (max %d)", maxPresetNameLength)
	}
	return normalized, nil
}

// List returns presets ordered by most recent update first.
func (s *PresetStore) List() ([]Preset, error) {
	presets, err := s.load()
	if err != nil {
		return nil, err
	}
	items := make([]Preset, 0, len(presets))
	for name, preset := range presets {
		preset.Name = name
		if preset.UpdatedAt == "" {
			preset.UpdatedAt = "1970-01-01T00:00:00Z"
		}
		items = append(items, preset)
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].UpdatedAt == items[j].UpdatedAt {
			return items[i].Name < items[j].Name
		}
		return items[i].UpdatedAt > items[j].UpdatedAt
	})
	return items, nil
}

// Get returns the preset stored under name.
func (s *PresetStore) Get(name string) (Preset, error) {
	normalized, err := NormalizePresetName(name)
	if err != nil {
		return Preset{}, err
	}
	presets, err := s.load()
	if err != nil {
		return Preset{}, err
	}
	preset, ok := presets[normalized]
	if !ok {
		return Preset{}, fmt.Errorf("%w: %s", ErrPresetNotFound, normalized)
	}
	preset.Name = normalized
	return preset, nil
}

// Save stores cfg under name, replacing any existing preset.
func (s *PresetStore) Save(name string, cfg Config) (Preset, error) {
	normalized, err := NormalizePresetName(name)
	if err != nil {
		return Preset{}, err
	}
	presets, err := s.load()
	if err != nil {
		return Preset{}, err
	}
	preset := Preset{
		Name:      normalized,
		UpdatedAt: s.now().UTC().Truncate(time.Second).Format(time.RFC3339),
		Config:    cfg,
	}
	presets[normalized] = preset
	if err := s.write(presets); err != nil {
		return Preset{}, err
	}
	return preset, nil
}

// Delete removes the named preset. It reports whether anything was removed.
func (s *PresetStore) Delete(name string) (bool, error) {
	normalized, err := NormalizePresetName(name)
	if err != nil {
		return false, err
	}
	presets, err := s.load()
	if err != nil {
		return false, err
	}
	if _, ok := presets[normalized]; !ok {
		return false, nil
	}
	delete(presets, normalized)
	return true, s.write(presets)
}

func (s *PresetStore) load() (map[string]Preset, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]Preset{}, nil
		}
		return nil, fmt.Errorf("read presets: %w", err)
	}
	var file presetFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse presets: %w", err)
	}
	if file.Presets == nil {
		file.Presets = map[string]Preset{}
	}
	return file.Presets, nil
}

func (s *PresetStore) write(presets map[string]Preset) error {
	data, err := toml.Marshal(presetFile{Presets: presets})
	if err != nil {
		return fmt.Errorf("encode presets: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create presets directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write presets: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace presets: %w", err)
	}
	return nil
}

// WriteFile renders cfg as TOML at path, creating parent directories.
func WriteFile(path string, cfg Config) error {
	data, err := Encode(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
