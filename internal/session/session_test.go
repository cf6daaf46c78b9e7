package session

import (
	"sync"
	"testing"
)

func TestGetSetDelete(t *testing.T) {
	s := NewStore()

	// Unknown call yields an empty state, never nil.
	state := s.Get("call-1")
	if state == nil || len(state) != 0 {
		t.Fatalf("expected empty state, got %v", state)
	}

	s.Set("call-1", State{"examId": int64(7)})
	got := s.Get("call-1")
	if got["examId"] != int64(7) {
		t.Errorf("expected examId 7, got %v", got["examId"])
	}

	// Distinct calls do not share state.
	if other := s.Get("call-2"); len(other) != 0 {
		t.Errorf("expected empty state for call-2, got %v", other)
	}

	s.Delete("call-1")
	if got := s.Get("call-1"); len(got) != 0 {
		t.Errorf("expected state gone after delete, got %v", got)
	}

	// Deleting again is a no-op.
	s.Delete("call-1")
}

func TestGetReturnsCopy(t *testing.T) {
	s := NewStore()
	s.Set("call-1", State{"k": "v"})

	got := s.Get("call-1")
	got["k"] = "mutated"
	got["extra"] = true

	fresh := s.Get("call-1")
	if fresh["k"] != "v" {
		t.Errorf("stored state was mutated through a snapshot: %v", fresh)
	}
	if _, ok := fresh["extra"]; ok {
		t.Error("snapshot mutation leaked into the store")
	}
}

func TestUpdateSerializes(t *testing.T) {
	s := NewStore()
	s.Set("call-1", State{"n": 0})

	// Concurrent read-modify-write cycles on the same key must not lose
	// increments.
	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Update("call-1", func(state State) State {
				state["n"] = state["n"].(int) + 1
				return state
			})
		}()
	}
	wg.Wait()

	if got := s.Get("call-1")["n"]; got != workers {
		t.Errorf("expected %d, got %v", workers, got)
	}
}

func TestUpdateCreatesEntry(t *testing.T) {
	s := NewStore()
	s.Update("call-1", func(state State) State {
		state["seeded"] = true
		return state
	})
	if got := s.Get("call-1")["seeded"]; got != true {
		t.Errorf("expected seeded state, got %v", got)
	}
}
