package id

import (
	"strings"
	"sync"
	"testing"
	"time"
)

func TestGenerateUnique(t *testing.T) {
	gen := NewGenerator()

	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		s := gen.Generate().String()
		if seen[s] {
			t.Fatalf("duplicate id %s", s)
		}
		seen[s] = true
	}
}

func TestGenerateSorted(t *testing.T) {
	gen := NewGenerator()

	prev := gen.Generate().String()
	for i := 0; i < 100; i++ {
		next := gen.Generate().String()
		if next <= prev {
			t.Fatalf("ids not increasing: %s then %s", prev, next)
		}
		prev = next
	}
}

func TestNewShellID(t *testing.T) {
	sid := NewShellID()

	if !strings.HasPrefix(sid.String(), ShellPrefix+"_") {
		t.Errorf("expected %s_ prefix, got %s", ShellPrefix, sid)
	}
	if !sid.Valid() {
		t.Errorf("expected %s to be valid", sid)
	}
	if ShellID("req_01J9Z4N8Q2A1B3C5D7E9F1G3H5").Valid() {
		t.Error("request id accepted as shell id")
	}
	if ShellID("sh_not-a-ulid").Valid() {
		t.Error("malformed ulid accepted")
	}
}

func TestCreatedAt(t *testing.T) {
	before := time.Now().Add(-time.Second)
	sid := NewShellID()

	ts, err := CreatedAt(sid.String(), ShellPrefix)
	if err != nil {
		t.Fatalf("CreatedAt: %v", err)
	}
	if ts.Before(before) || ts.After(time.Now().Add(time.Second)) {
		t.Errorf("timestamp %v out of range", ts)
	}
}

func TestConcurrentGeneration(t *testing.T) {
	const workers, perWorker = 10, 100

	var mu sync.Mutex
	seen := make(map[ShellID]bool)
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				sid := NewShellID()
				mu.Lock()
				seen[sid] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != workers*perWorker {
		t.Errorf("expected %d unique ids, got %d", workers*perWorker, len(seen))
	}
}
