package config_test

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"reelhook/internal/config"
)

func TestPresetStoreRoundTrip(t *testing.T) {
	store := config.NewPresetStore(filepath.Join(t.TempDir(), "presets.toml"))

	items, err := store.List()
	if err != nil {
		t.Fatalf("List on missing file: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected no presets, got %d", len(items))
	}

	cfg := config.Default()
	cfg.LLM.Model = "custom-model"
	saved, err := store.Save("  staging  ", cfg)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if saved.Name != "staging" {
		t.Fatalf("expected trimmed name, got %q", saved.Name)
	}
	if saved.UpdatedAt == "" {
		t.Fatal("expected updated_at to be set")
	}

	got, err := store.Get("staging")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Config.LLM.Model != "custom-model" {
		t.Fatalf("unexpected model: %q", got.Config.LLM.Model)
	}

	items, err = store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 1 || items[0].Name != "staging" {
		t.Fatalf("unexpected list: %+v", items)
	}

	removed, err := store.Delete("staging")
	if err != nil || !removed {
		t.Fatalf("Delete: removed=%v err=%v", removed, err)
	}
	removed, err = store.Delete("staging")
	if err != nil || removed {
		t.Fatalf("second Delete: removed=%v err=%v", removed, err)
	}
	if _, err := store.Get("staging"); !errors.Is(err, config.ErrPresetNotFound) {
		t.Fatalf("expected ErrPresetNotFound, got %v", err)
	}
}

func TestNormalizePresetName(t *testing.T) {
	if _, err := config.NormalizePresetName("   "); err == nil {
		t.Fatal("expected empty name to fail")
	}
	if _, err := config.NormalizePresetName(strings.Repeat("名", 81)); err == nil {
		t.Fatal("expected long name to fail")
	}
	name, err := config.NormalizePresetName(strings.Repeat("名", 80))
	if err != nil {
		t.Fatalf("80 runes should be accepted: %v", err)
	}
	if len([]rune(name)) != 80 {
		t.Fatalf("unexpected name length %d", len([]rune(name)))
	}
}
