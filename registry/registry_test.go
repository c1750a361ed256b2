package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/docsync/docsync/store"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestRegistry_GetOrCreate_NewDocument(t *testing.T) {
	st := store.NewMemoryStore()
	r := New(st, testLogger())
	defer r.Close()

	sess, err := r.GetOrCreate(context.Background(), "new-doc")
	if err != nil {
		t.Fatalf("GetOrCreate() error: %v", err)
	}
	if sess.Text() != "" {
		t.Errorf("text = %q, want empty", sess.Text())
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestRegistry_GetOrCreate_ExistingDocument(t *testing.T) {
	st := store.NewMemoryStore()
	st.Create(context.Background(), "existing", "hello world")
	r := New(st, testLogger())
	defer r.Close()

	sess, err := r.GetOrCreate(context.Background(), "existing")
	if err != nil {
		t.Fatalf("GetOrCreate() error: %v", err)
	}
	if sess.Text() != "hello world" {
		t.Errorf("text = %q, want %q", sess.Text(), "hello world")
	}
}

func TestRegistry_GetOrCreate_ReturnsSameSession(t *testing.T) {
	st := store.NewMemoryStore()
	r := New(st, testLogger())
	defer r.Close()

	s1, err := r.GetOrCreate(context.Background(), "doc")
	if err != nil {
		t.Fatal(err)
	}
	s2, err := r.GetOrCreate(context.Background(), "doc")
	if err != nil {
		t.Fatal(err)
	}
	if s1 != s2 {
		t.Error("GetOrCreate returned different sessions for the same doc id")
	}
}

func TestRegistry_GetOrCreate_ConcurrentCallersShareOneSession(t *testing.T) {
	st := store.NewMemoryStore()
	r := New(st, testLogger())
	defer r.Close()

	const n = 50
	var wg sync.WaitGroup
	sessions := make([]interface{}, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := r.GetOrCreate(context.Background(), "racy-doc")
			if err != nil {
				t.Error(err)
				return
			}
			sessions[i] = s
		}(i)
	}
	wg.Wait()

	first := sessions[0]
	for i, s := range sessions {
		if s != first {
			t.Errorf("caller %d got a different session instance", i)
		}
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1 (exactly one session constructed)", r.Len())
	}
}

func TestRegistry_AttachDetachRefCounting(t *testing.T) {
	st := store.NewMemoryStore()
	r := New(st, testLogger())
	defer r.Close()

	r.GetOrCreate(context.Background(), "doc")
	r.Attach("doc")
	r.Attach("doc")
	r.Detach("doc")

	sh := r.shardFor("doc")
	sh.mu.Lock()
	rc := sh.sessions["doc"].refCount
	sh.mu.Unlock()
	if rc != 1 {
		t.Errorf("refCount = %d, want 1", rc)
	}
}

func TestRegistry_SweepEvictsIdleZeroRefSessions(t *testing.T) {
	st := store.NewMemoryStore()
	r := New(st, testLogger())
	defer r.Close()
	r.evictAfter = time.Millisecond

	r.GetOrCreate(context.Background(), "idle-doc")
	time.Sleep(5 * time.Millisecond)

	r.sweep()

	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after sweep", r.Len())
	}
}

func TestRegistry_SweepSparesReferencedSessions(t *testing.T) {
	st := store.NewMemoryStore()
	r := New(st, testLogger())
	defer r.Close()
	r.evictAfter = time.Millisecond

	r.GetOrCreate(context.Background(), "held-doc")
	r.Attach("held-doc")
	time.Sleep(5 * time.Millisecond)

	r.sweep()

	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1 (still referenced)", r.Len())
	}
}
