package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pim-systems/pimd/config"
)

func TestDefaultConfigIsUsableStandalone(t *testing.T) {
	c := config.Default()
	if c.Notification.DispatchWorkers <= 0 {
		t.Fatalf("expected a positive default dispatch worker count")
	}
	if c.Notification.CoalesceInterval <= 0 {
		t.Fatalf("expected a positive default coalesce interval")
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	c, err := config.LoadFile(filepath.Join(t.TempDir(), "absent.ini"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if c.Store.Path != config.Default().Store.Path {
		t.Fatalf("expected default store path, got %q", c.Store.Path)
	}
}

func TestLoadFileOverridesOnlyPresentKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pimd.ini")
	body := "[cache]\nverify_on_retrieval = true\n\n[notification]\ncoalesce_interval = 500ms\n\n[store]\npath = /var/lib/pimd/pimd.db\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := config.LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if !c.Cache.VerifyOnRetrieval {
		t.Fatalf("expected verify_on_retrieval=true from file")
	}
	if c.Notification.CoalesceInterval != 500*time.Millisecond {
		t.Fatalf("coalesce interval = %v, want 500ms", c.Notification.CoalesceInterval)
	}
	if c.Store.Path != "/var/lib/pimd/pimd.db" {
		t.Fatalf("store path = %q, want override", c.Store.Path)
	}
	// blob_dir absent from the file: default preserved.
	if c.Store.BlobDir != config.Default().Store.BlobDir {
		t.Fatalf("blob dir = %q, want default %q", c.Store.BlobDir, config.Default().Store.BlobDir)
	}
	if c.Notification.DispatchWorkers != config.Default().Notification.DispatchWorkers {
		t.Fatalf("dispatch workers = %d, want default preserved", c.Notification.DispatchWorkers)
	}
}

func TestLoadReadsConfigDirEnvVar(t *testing.T) {
	dir := t.TempDir()
	body := "[log]\nlevel = debug\n"
	if err := os.WriteFile(filepath.Join(dir, "pimd.ini"), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(config.EnvConfigDir, dir)

	c, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Log.Level != "debug" {
		t.Fatalf("log level = %q, want debug", c.Log.Level)
	}
}
