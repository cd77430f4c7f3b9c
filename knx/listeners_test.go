package knx

import (
	"sync"
	"testing"
)

type recordingListener struct {
	calls int
	panic bool
}

func (l *recordingListener) AdapterClosed(CloseEvent) {
	l.calls++
	if l.panic {
		panic("listener failure")
	}
}

func fireClose(l *EventListeners[CloseListener]) {
	l.Fire(func(cl CloseListener) { cl.AdapterClosed(CloseEvent{}) })
}

func TestEventListenersAddRemove(t *testing.T) {
	l := NewEventListeners[CloseListener](nil)
	a, b := &recordingListener{}, &recordingListener{}

	l.Add(a)
	l.Add(b)
	if got := len(l.Listeners()); got != 2 {
		t.Fatalf("listeners = %d, want 2", got)
	}

	// duplicates and zero values are ignored
	l.Add(a)
	l.Add(nil)
	if got := len(l.Listeners()); got != 2 {
		t.Fatalf("listeners after duplicate add = %d, want 2", got)
	}

	l.Remove(a)
	if got := len(l.Listeners()); got != 1 {
		t.Fatalf("listeners after remove = %d, want 1", got)
	}
	// removing an unknown listener is a no-op
	l.Remove(a)

	l.RemoveAll()
	if got := len(l.Listeners()); got != 0 {
		t.Fatalf("listeners after remove all = %d, want 0", got)
	}
}

func TestEventListenersOrder(t *testing.T) {
	l := NewEventListeners[CloseListener](nil)
	a, b, c := &recordingListener{}, &recordingListener{}, &recordingListener{}
	l.Add(a)
	l.Add(b)
	l.Add(c)

	got := l.Listeners()
	want := []CloseListener{a, b, c}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("listener %d = %v, want registration order", i, got[i])
		}
	}
}

func TestEventListenersSnapshotImmutable(t *testing.T) {
	l := NewEventListeners[CloseListener](nil)
	a, b := &recordingListener{}, &recordingListener{}
	l.Add(a)

	snapshot := l.Listeners()
	l.Add(b)

	if len(snapshot) != 1 {
		t.Errorf("earlier snapshot grew to %d entries", len(snapshot))
	}
	if len(l.Listeners()) != 2 {
		t.Errorf("current snapshot = %d entries, want 2", len(l.Listeners()))
	}
}

func TestEventListenersFire(t *testing.T) {
	l := NewEventListeners[CloseListener](nil)
	a, b := &recordingListener{}, &recordingListener{}
	l.Add(a)
	l.Add(b)

	fireClose(l)
	fireClose(l)

	if a.calls != 2 || b.calls != 2 {
		t.Errorf("calls = %d/%d, want 2/2", a.calls, b.calls)
	}
}

func TestEventListenersPanickingListenerRemoved(t *testing.T) {
	l := NewEventListeners[CloseListener](nil)
	bad := &recordingListener{panic: true}
	good := &recordingListener{}
	l.Add(bad)
	l.Add(good)

	// must not propagate and must keep delivering to the healthy listener
	fireClose(l)

	if bad.calls != 1 {
		t.Errorf("panicking listener calls = %d, want 1", bad.calls)
	}
	if good.calls != 1 {
		t.Errorf("healthy listener calls = %d, want 1", good.calls)
	}
	if got := len(l.Listeners()); got != 1 {
		t.Fatalf("listeners after panic = %d, want 1", got)
	}

	fireClose(l)
	if bad.calls != 1 {
		t.Errorf("panicking listener called again after removal")
	}
	if good.calls != 2 {
		t.Errorf("healthy listener calls = %d, want 2", good.calls)
	}
}

func TestEventListenersConcurrent(t *testing.T) {
	l := NewEventListeners[CloseListener](nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			own := &recordingListener{}
			for j := 0; j < 100; j++ {
				l.Add(own)
				fireClose(l)
				l.Remove(own)
			}
		}()
	}
	wg.Wait()

	if got := len(l.Listeners()); got != 0 {
		t.Errorf("listeners after concurrent churn = %d, want 0", got)
	}
}

func TestCloseListenerFunc(t *testing.T) {
	if CloseListenerFunc(nil) != nil {
		t.Error("CloseListenerFunc(nil) is not nil")
	}

	var got CloseEvent
	fn := CloseListenerFunc(func(e CloseEvent) { got = e })
	fn.AdapterClosed(CloseEvent{Initiator: InitiatorExternal, Reason: "x"})
	if got.Initiator != InitiatorExternal || got.Reason != "x" {
		t.Errorf("wrapped listener got %+v", got)
	}

	// distinct identities per wrap
	l := NewEventListeners[CloseListener](nil)
	l.Add(CloseListenerFunc(func(CloseEvent) {}))
	l.Add(CloseListenerFunc(func(CloseEvent) {}))
	if got := len(l.Listeners()); got != 2 {
		t.Errorf("listeners = %d, want 2", got)
	}
}
