package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

type recordingModule struct {
	keys []string
	last interface{}
}

func (r *recordingModule) OnSettingsUpdate(moduleKey string, newSettings interface{}) error {
	r.keys = append(r.keys, moduleKey)
	r.last = newSettings
	return nil
}

func TestNewSettingsManagerCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.json")
	sm, err := NewSettingsManager(path, nil)
	if err != nil {
		t.Fatalf("NewSettingsManager() error = %v", err)
	}
	if sm.Get().Rotator.Strategy != "best" {
		t.Errorf("default strategy = %s", sm.Get().Rotator.Strategy)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("settings file not written: %v", err)
	}
}

func TestUpdateNotifiesAndPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	sm, err := NewSettingsManager(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	rec := &recordingModule{}
	sm.Register(ModuleRotator, rec)

	before := sm.Get()
	if err := sm.Update(ModuleRotator, json.RawMessage(`{"strategy":"round_robin","max_failures":2}`)); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	if len(rec.keys) != 1 || rec.keys[0] != ModuleRotator {
		t.Fatalf("subscriber calls = %v", rec.keys)
	}
	got, ok := rec.last.(*RotatorSettings)
	if !ok || got.Strategy != "round_robin" || got.MaxFailures != 2 {
		t.Errorf("subscriber got %#v", rec.last)
	}
	if got.EscalateAfter != 2 {
		t.Errorf("unspecified fields should survive, EscalateAfter = %d", got.EscalateAfter)
	}
	if before.Rotator.Strategy != "best" {
		t.Error("old snapshot was mutated")
	}

	reloaded, err := NewSettingsManager(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Get().Rotator.Strategy != "round_robin" {
		t.Errorf("persisted strategy = %s", reloaded.Get().Rotator.Strategy)
	}
}

func TestUpdateUnknownModule(t *testing.T) {
	sm, _ := NewSettingsManager("", nil)
	if err := sm.Update("gateway", json.RawMessage(`{}`)); err == nil {
		t.Error("expected error for unknown module")
	}
	if _, err := sm.Module("gateway"); err == nil {
		t.Error("expected error from Module for unknown key")
	}
}
