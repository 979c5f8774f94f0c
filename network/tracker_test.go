package network

import (
	"context"
	"testing"
	"time"
)

func newTestTracker() *Tracker {
	return NewTracker(Config{
		IdleTimeout:    20 * time.Millisecond,
		RequestTimeout: 200 * time.Millisecond,
		PollInterval:   10 * time.Millisecond,
	})
}

func TestHandleStartIgnoresDataAndBlob(t *testing.T) {
	tr := newTestTracker()
	tr.HandleStart("GET", "data:image/png;base64,xyz")
	tr.HandleStart("GET", "blob:https://a.example/123")
	if tr.PendingCount() != 0 {
		t.Errorf("data: and blob: requests should be ignored, pending = %d", tr.PendingCount())
	}

	// Finishing them is equally a no-op.
	tr.HandleFinish("GET", "data:image/png;base64,xyz")
	if tr.PendingCount() != 0 {
		t.Error("finishing an ignored request should not change the tally")
	}
}

func TestUnknownFinishIsNoOp(t *testing.T) {
	tr := newTestTracker()
	tr.HandleStart("GET", "https://a.example/one")
	tr.HandleFinish("GET", "https://a.example/never-started")
	if tr.PendingCount() != 1 {
		t.Errorf("pending = %d, want 1", tr.PendingCount())
	}
}

func TestIdleFiresAfterQuietWindow(t *testing.T) {
	tr := newTestTracker()
	fired := make(chan struct{}, 1)
	tr.OnIdle(func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})

	tr.HandleStart("GET", "https://a.example/x")
	tr.HandleFinish("GET", "https://a.example/x")

	select {
	case <-fired:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("idle did not fire after the quiet window")
	}
}

func TestNewRequestDisarmsDebounce(t *testing.T) {
	tr := newTestTracker()
	fired := make(chan struct{}, 1)
	tr.OnIdle(func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})

	tr.HandleStart("GET", "https://a.example/x")
	tr.HandleFinish("GET", "https://a.example/x")
	// A new request lands inside the debounce window.
	tr.HandleStart("GET", "https://a.example/y")

	select {
	case <-fired:
		t.Fatal("idle fired while a request was pending")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestResetClearsStateAndBumpsEpoch(t *testing.T) {
	tr := newTestTracker()
	tr.HandleStart("GET", "https://a.example/x")
	e0 := tr.Epoch()

	tr.Reset()

	if tr.PendingCount() != 0 {
		t.Errorf("pending after reset = %d, want 0", tr.PendingCount())
	}
	if tr.Epoch() != e0+1 {
		t.Errorf("epoch after reset = %d, want %d", tr.Epoch(), e0+1)
	}
}

func TestWaitForIdleImmediate(t *testing.T) {
	tr := newTestTracker()
	if !tr.WaitForIdle(context.Background(), IdleOptions{Timeout: time.Second}) {
		t.Error("WaitForIdle should confirm an already-quiet page")
	}
}

func TestWaitForIdleTimesOut(t *testing.T) {
	tr := NewTracker(Config{
		IdleTimeout:    20 * time.Millisecond,
		RequestTimeout: time.Minute, // keep the stuck request alive
		PollInterval:   10 * time.Millisecond,
	})
	tr.HandleStart("GET", "https://a.example/slow")

	start := time.Now()
	if tr.WaitForIdle(context.Background(), IdleOptions{Timeout: 100 * time.Millisecond}) {
		t.Error("WaitForIdle should time out with a pending request")
	}
	if time.Since(start) > time.Second {
		t.Error("WaitForIdle overshot its deadline")
	}
}

func TestWaitForIdleCollectsStuckRequests(t *testing.T) {
	tr := NewTracker(Config{
		IdleTimeout:    20 * time.Millisecond,
		RequestTimeout: 50 * time.Millisecond,
		PollInterval:   10 * time.Millisecond,
	})
	tr.HandleStart("GET", "https://a.example/hung")

	if !tr.WaitForIdle(context.Background(), IdleOptions{Timeout: time.Second}) {
		t.Error("WaitForIdle should succeed once the stuck request is collected")
	}
	if tr.PendingCount() != 0 {
		t.Errorf("pending = %d, want 0 after collection", tr.PendingCount())
	}
}

func TestWaitForIdleAbortsOnEpochChange(t *testing.T) {
	tr := newTestTracker()
	tr.HandleStart("GET", "https://a.example/x")

	done := make(chan bool, 1)
	go func() {
		done <- tr.WaitForIdle(context.Background(), IdleOptions{Timeout: time.Second})
	}()

	time.Sleep(30 * time.Millisecond)
	tr.Reset()

	select {
	case ok := <-done:
		if ok {
			t.Error("WaitForIdle should report false after an epoch change")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForIdle did not return after the epoch change")
	}
}

func TestOnIdleRemove(t *testing.T) {
	tr := newTestTracker()
	fired := false
	remove := tr.OnIdle(func() { fired = true })
	remove()

	tr.HandleStart("GET", "https://a.example/x")
	tr.HandleFinish("GET", "https://a.example/x")
	time.Sleep(80 * time.Millisecond)

	if fired {
		t.Error("removed listener should not fire")
	}
}
