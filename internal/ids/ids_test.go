package ids

import (
	"sync"
	"testing"

	"github.com/oklog/ulid/v2"
)

func TestNewProducesValidULIDs(t *testing.T) {
	a := New()
	b := New()
	if a == b {
		t.Fatal("consecutive ids must differ")
	}
	for _, id := range []string{a, b} {
		if _, err := ulid.Parse(id); err != nil {
			t.Fatalf("not a valid ulid %q: %v", id, err)
		}
	}
	// Same-millisecond ids stay ordered thanks to the monotonic entropy.
	if b < a {
		t.Fatalf("expected %q < %q", a, b)
	}
}

func TestNewIsSafeForConcurrentUse(t *testing.T) {
	const n = 64
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = make(map[string]struct{}, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := New()
			mu.Lock()
			ids[id] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()
	if len(ids) != n {
		t.Fatalf("expected %d unique ids, got %d", n, len(ids))
	}
}
