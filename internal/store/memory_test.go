package store

import (
	"sync"
	"testing"
	"time"

	"github.com/jpalmerr/observatory/internal/stats"
)

var t0 = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func record(id, state string, queuedAt time.Time) JobRecord {
	return JobRecord{
		ID:            id,
		Suite:         "TestMock",
		DeploymentURL: "https://proxy.example.com",
		Models:        []string{"gpt-4"},
		State:         state,
		QueuedAt:      queuedAt,
	}
}

func TestNewMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	if store == nil {
		t.Fatal("NewMemoryStore() = nil")
	}

	// should start empty
	if len(store.GetAll()) != 0 {
		t.Errorf("GetAll() = %v items, want 0", len(store.GetAll()))
	}
}

func TestMemoryStore_Update(t *testing.T) {
	store := NewMemoryStore()

	if !store.Update(record("abc", StateQueued, t0)) {
		t.Fatal("Update() = false, want true")
	}

	got, ok := store.Get("abc")
	if !ok {
		t.Fatal("Get() ok = false")
	}
	if got.State != StateQueued {
		t.Errorf("Get().State = %v, want %v", got.State, StateQueued)
	}
	if got.Suite != "TestMock" {
		t.Errorf("Get().Suite = %v, want %v", got.Suite, "TestMock")
	}
}

func TestMemoryStore_UpdateAdvancesState(t *testing.T) {
	store := NewMemoryStore()

	store.Update(record("abc", StateQueued, t0))
	store.Update(record("abc", StateRunning, t0))
	store.Update(record("abc", StateCompleted, t0))

	all := store.GetAll()
	if len(all) != 1 {
		t.Fatalf("GetAll() = %v items, want 1", len(all))
	}
	if all[0].State != StateCompleted {
		t.Errorf("GetAll()[0].State = %v, want %v", all[0].State, StateCompleted)
	}
}

func TestMemoryStore_UpdateIgnoresStale(t *testing.T) {
	tests := []struct {
		name  string
		first JobRecord
		next  JobRecord
		want  string
	}{
		{
			name:  "queued after running",
			first: record("abc", StateRunning, t0),
			next:  record("abc", StateQueued, t0),
			want:  StateRunning,
		},
		{
			name:  "running after failed",
			first: record("abc", StateFailed, t0),
			next:  record("abc", StateRunning, t0),
			want:  StateFailed,
		},
		{
			name:  "older submission",
			first: record("abc", StateQueued, t0.Add(time.Minute)),
			next:  record("abc", StateCompleted, t0),
			want:  StateQueued,
		},
		{
			name:  "newer submission replaces terminal",
			first: record("abc", StateCompleted, t0),
			next:  record("abc", StateQueued, t0.Add(time.Minute)),
			want:  StateQueued,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMemoryStore()
			store.Update(tt.first)
			store.Update(tt.next)

			got, _ := store.Get("abc")
			if got.State != tt.want {
				t.Errorf("State = %v, want %v", got.State, tt.want)
			}
		})
	}
}

func TestMemoryStore_AttachSummary(t *testing.T) {
	store := NewMemoryStore()
	store.Update(record("abc", StateRunning, t0))

	if store.Attach("abc", t0.Add(time.Second), stats.Summary{TotalRequests: 1}) {
		t.Error("Attach() with a different submission = true, want false")
	}
	if !store.Attach("abc", t0, stats.Summary{TotalRequests: 12}) {
		t.Fatal("Attach() = false, want true")
	}

	// the terminal update arrives without a summary and must keep it
	store.Update(record("abc", StateCompleted, t0))

	got, _ := store.Get("abc")
	if got.Summary == nil {
		t.Fatal("Summary = nil after terminal update")
	}
	if got.Summary.TotalRequests != 12 {
		t.Errorf("Summary.TotalRequests = %v, want 12", got.Summary.TotalRequests)
	}
}

func TestMemoryStore_AttachUnknown(t *testing.T) {
	store := NewMemoryStore()
	if store.Attach("missing", t0, stats.Summary{}) {
		t.Error("Attach() = true for an unknown id")
	}
}

func TestMemoryStore_Delete(t *testing.T) {
	store := NewMemoryStore()
	store.Update(record("abc", StateCompleted, t0))
	ch := store.Subscribe()
	defer store.Unsubscribe(ch)

	if !store.Delete("abc", t0) {
		t.Fatal("Delete() = false, want true")
	}
	if _, ok := store.Get("abc"); ok {
		t.Error("Get() found a deleted record")
	}

	select {
	case rec := <-ch:
		if !rec.Deleted || rec.ID != "abc" {
			t.Errorf("published %+v, want deleted abc", rec)
		}
	case <-time.After(time.Second):
		t.Error("Delete() did not notify subscribers")
	}
}

func TestMemoryStore_DeleteKeepsNewerSubmission(t *testing.T) {
	store := NewMemoryStore()
	store.Update(record("abc", StateQueued, t0.Add(time.Minute)))

	if store.Delete("abc", t0) {
		t.Error("Delete() of an older submission = true, want false")
	}
	if _, ok := store.Get("abc"); !ok {
		t.Error("newer submission was removed")
	}
}

func TestMemoryStore_GetAllOrdered(t *testing.T) {
	store := NewMemoryStore()

	store.Update(record("c", StateQueued, t0.Add(2*time.Second)))
	store.Update(record("a", StateQueued, t0))
	store.Update(record("b", StateQueued, t0.Add(time.Second)))

	all := store.GetAll()
	if len(all) != 3 {
		t.Fatalf("GetAll() = %v items, want 3", len(all))
	}
	for i, want := range []string{"a", "b", "c"} {
		if all[i].ID != want {
			t.Errorf("GetAll()[%d].ID = %v, want %v", i, all[i].ID, want)
		}
	}
}

func TestMemoryStore_Subscribe(t *testing.T) {
	store := NewMemoryStore()

	ch := store.Subscribe()
	if ch == nil {
		t.Fatal("Subscribe() = nil")
	}

	go func() {
		store.Update(record("abc", StateQueued, t0))
	}()

	select {
	case rec := <-ch:
		if rec.ID != "abc" {
			t.Errorf("received ID = %v, want %v", rec.ID, "abc")
		}
	case <-time.After(1 * time.Second):
		t.Error("Subscribe() channel did not receive update")
	}
}

func TestMemoryStore_StaleUpdateNotPublished(t *testing.T) {
	store := NewMemoryStore()
	store.Update(record("abc", StateRunning, t0))

	ch := store.Subscribe()
	defer store.Unsubscribe(ch)

	store.Update(record("abc", StateQueued, t0))

	select {
	case rec := <-ch:
		t.Errorf("stale update published: %+v", rec)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryStore_MultipleSubscribers(t *testing.T) {
	store := NewMemoryStore()

	ch1 := store.Subscribe()
	ch2 := store.Subscribe()
	ch3 := store.Subscribe()

	// update should fanout to all subscribers
	go func() {
		store.Update(record("abc", StateQueued, t0))
	}()

	received := 0
	timeout := time.After(1 * time.Second)

	for received < 3 {
		select {
		case <-ch1:
			received++
		case <-ch2:
			received++
		case <-ch3:
			received++
		case <-timeout:
			t.Fatalf("Only received %d/3 updates", received)
		}
	}
}

func TestMemoryStore_Unsubscribe(t *testing.T) {
	store := NewMemoryStore()

	ch := store.Subscribe()
	store.Unsubscribe(ch)
	store.Unsubscribe(ch)

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("Unsubscribe() channel should be closed")
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("Unsubscribe() channel should be closed immediately")
	}
}

func TestMemoryStore_SlowSubscriberDoesNotBlock(t *testing.T) {
	store := NewMemoryStore()

	// never read
	_ = store.Subscribe()

	ch2 := store.Subscribe()
	done := make(chan bool)

	go func() {
		for i := 0; i < 2*subscriberBuffer; i++ {
			store.Update(record("abc", StateQueued, t0.Add(time.Duration(i)*time.Millisecond)))
		}
		done <- true
	}()

	go func() {
		for range ch2 {
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("Update() blocked on slow subscriber")
	}
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	store := NewMemoryStore()

	var wg sync.WaitGroup
	numGoroutines := 10
	numUpdates := 100

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < numUpdates; j++ {
				store.Update(record("abc", StateRunning, t0))
				store.Attach("abc", t0, stats.Summary{TotalRequests: j})
			}
		}()
	}

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < numUpdates; j++ {
				_ = store.GetAll()
				_, _ = store.Get("abc")
			}
		}()
	}

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch := store.Subscribe()
			time.Sleep(10 * time.Millisecond)
			store.Unsubscribe(ch)
		}()
	}

	wg.Wait()
}
