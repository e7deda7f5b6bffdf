package local

import (
	"errors"
	"sync"
	"testing"
)

func TestIDNamesCachesLookups(t *testing.T) {
	calls := map[string]int{}
	var mu sync.Mutex
	n := newIDNames()
	n.lookupUser = func(id string) (string, error) {
		mu.Lock()
		calls["user "+id]++
		mu.Unlock()
		if id == "0" {
			return "root", nil
		}
		return "", errors.New("unknown user")
	}
	n.lookupGroup = func(id string) (string, error) {
		mu.Lock()
		calls["group "+id]++
		mu.Unlock()
		return "wheel", nil
	}

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				if got := n.user(0); got != "root" {
					t.Errorf("user(0) = %q, want root", got)
				}
				if got := n.user(1001); got != "1001" {
					t.Errorf("user(1001) = %q, want numeric fallback", got)
				}
				if got := n.group(0); got != "wheel" {
					t.Errorf("group(0) = %q, want wheel", got)
				}
			}
		}()
	}
	wg.Wait()

	for key, c := range calls {
		if c != 1 {
			t.Errorf("%s looked up %d times, want 1", key, c)
		}
	}
	if len(calls) != 3 {
		t.Errorf("lookups = %v, want 3 distinct ids", calls)
	}
}
