package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rankgate/rankgate/internal/config"
)

const validConfig = `
endpoints:
  - path: /api
    method: GET
    ranks:
      - hits: 5
        batch-time: 1m
        block-time: 1m
`

const updatedConfig = `
endpoints:
  - path: /api
    method: GET
    ranks:
      - hits: 10
        batch-time: 1m
        block-time: 1m
`

func writeConfigFile(t *testing.T, path, content string) {
	t.Helper()
	if errWrite := os.WriteFile(path, []byte(content), 0o600); errWrite != nil {
		t.Fatalf("write config: %v", errWrite)
	}
}

func loadConfig(t *testing.T, path string) config.Config {
	t.Helper()
	cfg, errLoad := config.Load(path)
	if errLoad != nil {
		t.Fatalf("Load() error = %v", errLoad)
	}
	return cfg
}

func waitForHits(t *testing.T, set *LadderSet, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		ladder := set.Ladders()["GET /api"]
		if len(ladder) > 0 && ladder[0].Rules[0].Hits == want {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("ladder never reached hits = %d", want)
}

func TestWatchReloadsLadders(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfigFile(t, path, validConfig)

	set := NewLadderSet(loadConfig(t, path))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = Watch(ctx, path, set)
	}()

	// Give the watcher a moment to install before rewriting.
	time.Sleep(100 * time.Millisecond)
	writeConfigFile(t, path, updatedConfig)
	waitForHits(t, set, 10)

	cancel()
	<-done
}

func TestWatchKeepsLaddersOnInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfigFile(t, path, validConfig)

	set := NewLadderSet(loadConfig(t, path))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = Watch(ctx, path, set)
	}()

	time.Sleep(100 * time.Millisecond)
	writeConfigFile(t, path, "endpoints: [broken\n")

	// The broken rewrite is debounced and skipped; the previous ladders stay.
	time.Sleep(500 * time.Millisecond)
	ladder := set.Ladders()["GET /api"]
	if len(ladder) == 0 || ladder[0].Rules[0].Hits != 5 {
		t.Fatalf("ladder = %+v, want previous rules kept", ladder)
	}

	cancel()
	<-done
}

func TestLadderSetSwap(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfigFile(t, path, validConfig)
	set := NewLadderSet(loadConfig(t, path))

	if got := set.Ladders()["GET /api"][0].Rules[0].Hits; got != 5 {
		t.Fatalf("initial hits = %d, want 5", got)
	}
	if login := set.LoginLadder(); len(login) != 2 {
		t.Fatalf("login ladder ranks = %d, want built-in pair", len(login))
	}

	writeConfigFile(t, path, updatedConfig)
	set.swap(loadConfig(t, path))
	if got := set.Ladders()["GET /api"][0].Rules[0].Hits; got != 10 {
		t.Fatalf("hits after swap = %d, want 10", got)
	}
}
