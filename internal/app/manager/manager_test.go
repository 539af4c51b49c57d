package manager

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/relaymesh/grelay/internal/app/persist"
	"github.com/relaymesh/grelay/internal/config"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	dir := t.TempDir()
	p := persist.NewSelfManaged(filepath.Join(dir, "instances.json"), persist.FormatJSON, config.DefaultConfig())
	return New(p, netdef(), nil, nil)
}

func TestManager_CreateStartStop(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	inst, err := m.Create(ctx, config.InstanceConf{
		ID: "one",
		Config: config.EndpointConf{
			Listen: "127.0.0.1:0",
			Remote: "127.0.0.1:1",
		},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if inst.Status != "stopped" {
		t.Fatalf("expected stopped status, got %s", inst.Status)
	}

	if err := m.Start(ctx, "one"); err != nil {
		t.Fatalf("start: %v", err)
	}
	got, err := m.Get("one")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != "running" {
		t.Fatalf("expected running status, got %s", got.Status)
	}

	if err := m.Start(ctx, "one"); err != ErrAlreadyRunning {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}

	if err := m.Stop(ctx, "one"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	got, err = m.Get("one")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != "stopped" {
		t.Fatalf("expected stopped status after stop, got %s", got.Status)
	}
}

func TestManager_CreateDuplicateIDRejected(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	conf := config.InstanceConf{ID: "dup", Config: config.EndpointConf{Listen: "127.0.0.1:0", Remote: "127.0.0.1:1"}}

	if _, err := m.Create(ctx, conf); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := m.Create(ctx, conf); err != ErrAlreadyExists {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestManager_StartUnknownInstance(t *testing.T) {
	m := newTestManager(t)
	if err := m.Start(context.Background(), "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestManager_DeleteStopsRunningInstance(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	_, err := m.Create(ctx, config.InstanceConf{
		ID:     "two",
		Config: config.EndpointConf{Listen: "127.0.0.1:0", Remote: "127.0.0.1:1"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := m.Start(ctx, "two"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Delete(ctx, "two"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := m.Get("two"); err != ErrNotFound {
		t.Fatalf("expected instance to be gone, got %v", err)
	}
}

func TestManager_LoadPersistedAutoStarts(t *testing.T) {
	dir := t.TempDir()
	storage := filepath.Join(dir, "instances.json")

	seed := persist.NewSelfManaged(storage, persist.FormatJSON, config.DefaultConfig())
	if err := seed.Save([]config.InstanceConf{
		{
			ID:        "auto",
			AutoStart: true,
			Config:    config.EndpointConf{Listen: "127.0.0.1:0", Remote: "127.0.0.1:1"},
		},
	}); err != nil {
		t.Fatalf("seed save: %v", err)
	}
	if _, err := os.Stat(storage); err != nil {
		t.Fatalf("expected seed file to exist: %v", err)
	}

	p := persist.NewSelfManaged(storage, persist.FormatJSON, config.DefaultConfig())
	m := New(p, netdef(), nil, nil)

	if err := m.LoadPersisted(context.Background()); err != nil {
		t.Fatalf("load persisted: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		inst, err := m.Get("auto")
		if err == nil && inst.Status == "running" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected auto-start instance to reach running status")
}
