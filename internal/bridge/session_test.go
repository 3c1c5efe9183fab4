package bridge

import (
	"testing"
	"time"
)

func newTestSession(t *testing.T, w, h int) (*Session, *fakeAdapter, *Pool) {
	t.Helper()
	pool := NewPool(newFakeAttacher(), nil)
	adapter := newFakeAdapter(pool, w, h)
	sess := NewSession(adapter, pool, Options{AllowControl: true}, nil)
	if err := sess.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(sess.End)
	return sess, adapter, pool
}

func TestPopDrawEmptyQueue(t *testing.T) {
	sess, _, _ := newTestSession(t, 64, 64)
	if _, ok := sess.PopDraw(); ok {
		t.Fatalf("expected PopDraw on an empty queue to report false")
	}
	if sess.DrawWaiting() {
		t.Fatalf("expected DrawWaiting false on an empty queue")
	}
}

func TestPopDrawSetsDrawInProgress(t *testing.T) {
	sess, _, _ := newTestSession(t, 64, 64)
	sess.pushDraw(&DrawCommand{Token: ReleaseToken{Kind: FreeHeap, Heap: []byte{1}}})

	if !sess.DrawWaiting() {
		t.Fatalf("expected DrawWaiting true once a command is queued")
	}
	cmd, ok := sess.PopDraw()
	if !ok || cmd == nil {
		t.Fatalf("expected PopDraw to return the queued command")
	}
	if !sess.drawInProgress.Load() {
		t.Fatalf("expected drawInProgress set after a successful pop")
	}
	sess.DrawDone()
	if sess.drawInProgress.Load() {
		t.Fatalf("expected drawInProgress cleared after DrawDone")
	}
}

// S5 — resize sequence: RecreatePrimary destroys the old primary,
// reallocates, and creates a new primary at the requested geometry.
func TestRecreatePrimaryResizeSequence(t *testing.T) {
	sess, _, _ := newTestSession(t, 1024, 768)

	var createdW, createdH int
	var createdImg *Image
	destroyedCount := 0
	sess.OnCreatePrimary = func(img *Image, w, h int) {
		createdImg = img
		createdW, createdH = w, h
	}
	sess.OnDestroyPrimary = func() { destroyedCount++ }

	oldPrimary := sess.primary

	if err := sess.RecreatePrimary(1920, 1080, nil); err != nil {
		t.Fatalf("RecreatePrimary: %v", err)
	}

	if destroyedCount != 1 {
		t.Fatalf("expected OnDestroyPrimary called once, got %d", destroyedCount)
	}
	if createdW != 1920 || createdH != 1080 {
		t.Fatalf("new primary dims = %dx%d, want 1920x1080", createdW, createdH)
	}
	if sess.width != 1920 || sess.height != 1080 {
		t.Fatalf("session geometry = %dx%d, want 1920x1080", sess.width, sess.height)
	}
	if createdImg == oldPrimary {
		t.Fatalf("new primary must not be the same image as the old one")
	}
}

// Flush-and-lock: RecreatePrimary must not proceed while a draw command
// popped from the queue has not yet had its release observed.
func TestFlushAndLockWaitsForDrawInProgress(t *testing.T) {
	sess, _, _ := newTestSession(t, 100, 100)

	sess.pushDraw(&DrawCommand{Token: ReleaseToken{Kind: FreeHeap}})
	if _, ok := sess.PopDraw(); !ok {
		t.Fatal("expected to pop the queued command")
	}

	done := make(chan struct{})
	go func() {
		_ = sess.RecreatePrimary(200, 200, nil)
		close(done)
	}()

	select {
	case <-done:
		t.Fatalf("RecreatePrimary must block while a draw is in progress")
	case <-time.After(50 * time.Millisecond):
	}

	sess.DrawDone()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("RecreatePrimary should complete once DrawDone is called")
	}
}

func TestHandleResizeNoOpWhenUnchanged(t *testing.T) {
	sess, _, _ := newTestSession(t, 640, 480)
	called := false
	sess.OnDestroyPrimary = func() { called = true }

	sess.HandleResize(640, 480, sess.monitors)
	if called {
		t.Fatalf("HandleResize must not recreate the primary when geometry and monitors are unchanged")
	}
}

func TestHandleResizeTriggersRecreateOnGeometryChange(t *testing.T) {
	sess, _, _ := newTestSession(t, 640, 480)
	called := false
	sess.OnDestroyPrimary = func() { called = true }

	sess.HandleResize(800, 600, sess.monitors)
	if !called {
		t.Fatalf("HandleResize must recreate the primary when geometry changes")
	}
	if sess.width != 800 || sess.height != 600 {
		t.Fatalf("session geometry after resize = %dx%d, want 800x600", sess.width, sess.height)
	}
}

// Property 4 — release-token roundtrip via queue destruction.
func TestDestroyDrainsAndFreesQueuedTokens(t *testing.T) {
	sess, adapter, pool := newTestSession(t, 64, 64)

	img, err := adapter.CreateShmImage(pool, 16, 16)
	if err != nil {
		t.Fatal(err)
	}
	sess.pushDraw(&DrawCommand{Image: img, Token: ReleaseToken{Kind: FreeImage, Image: img}})
	sess.PushCursor(BuildCursorCommand(0, 0, 0, 0, 1, 1, []byte{1, 2, 3, 4}))

	sess.Destroy()

	if sess.DrawWaiting() || sess.CursorWaiting() {
		t.Fatalf("expected both queues drained after Destroy")
	}
	if pool.Size() != 0 {
		t.Fatalf("expected DestroyAll to clear the pool, got size %d", pool.Size())
	}
}

// PopDraw must trylock the coordinator lock like session_pop_draw: while
// RecreatePrimary (or anyone else) holds s.mu, a pop must fail outright
// rather than let a new draw go in-flight against a primary being torn down.
func TestPopDrawExcludedWhileCoordinatorLockHeld(t *testing.T) {
	sess, _, _ := newTestSession(t, 64, 64)
	sess.pushDraw(&DrawCommand{Token: ReleaseToken{Kind: FreeHeap}})

	sess.mu.Lock()
	if _, ok := sess.PopDraw(); ok {
		sess.mu.Unlock()
		t.Fatalf("expected PopDraw to fail while the coordinator lock is held")
	}
	sess.mu.Unlock()

	cmd, ok := sess.PopDraw()
	if !ok || cmd == nil {
		t.Fatalf("expected PopDraw to succeed once the coordinator lock is released")
	}
}

func TestAllowControlFalseDropsAllInput(t *testing.T) {
	pool := NewPool(newFakeAttacher(), nil)
	adapter := newFakeAdapter(pool, 64, 64)
	sess := NewSession(adapter, pool, Options{AllowControl: false}, nil)
	if err := sess.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(sess.End)

	sess.SendKey(30, true)
	sess.SendMotion(10, 10)
	sess.SendWheel(true)
	sess.SendButtonState(1)

	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	if len(adapter.keys) != 0 || len(adapter.motions) != 0 || len(adapter.wheels) != 0 || len(adapter.buttons) != 0 {
		t.Fatalf("expected view-only session to drop all input, got keys=%v motions=%v wheels=%v buttons=%v",
			adapter.keys, adapter.motions, adapter.wheels, adapter.buttons)
	}
}

func TestAllowControlTrueForwardsInput(t *testing.T) {
	sess, adapter, _ := newTestSession(t, 64, 64)

	sess.SendKey(30, true)
	sess.SendMotion(10, 10)
	sess.SendWheel(true)
	sess.SendButtonState(1)

	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	if len(adapter.keys) != 1 || len(adapter.motions) != 1 || len(adapter.wheels) != 1 || len(adapter.buttons) != 1 {
		t.Fatalf("expected controllable session to forward all input, got keys=%v motions=%v wheels=%v buttons=%v",
			adapter.keys, adapter.motions, adapter.wheels, adapter.buttons)
	}
}

func TestSendButtonStateForwardsOnChangeOnly(t *testing.T) {
	sess, adapter, _ := newTestSession(t, 64, 64)

	sess.SendButtonState(0) // no change from initial 0
	adapter.mu.Lock()
	n0 := len(adapter.buttons)
	adapter.mu.Unlock()
	if n0 != 0 {
		t.Fatalf("expected no forwarded button state when nothing changed, got %d calls", n0)
	}

	sess.SendButtonState(1) // left button now down
	adapter.mu.Lock()
	n1 := len(adapter.buttons)
	adapter.mu.Unlock()
	if n1 != 1 {
		t.Fatalf("expected exactly one forwarded call on a button change, got %d", n1)
	}
}
