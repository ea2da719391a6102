package input

import (
	"sync"
	"testing"
	"time"

	"rdeskd/internal/protocol"
)

type recordingInjector struct {
	mu      sync.Mutex
	keys    []uint32
	keyUps  []uint32
	blockOK bool
	blocked bool
}

func (r *recordingInjector) Mouse(*protocol.MouseEvent)     {}
func (r *recordingInjector) Pointer(*protocol.PointerEvent) {}

func (r *recordingInjector) Key(ev *protocol.KeyEvent) {
	r.mu.Lock()
	r.keys = append(r.keys, ev.Chr)
	r.mu.Unlock()
}

func (r *recordingInjector) KeyUp(chr uint32) {
	r.mu.Lock()
	r.keyUps = append(r.keyUps, chr)
	r.mu.Unlock()
}

func (r *recordingInjector) SetBlocked(on bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.blockOK {
		r.blocked = on
	}
	return r.blockOK
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not reached")
}

func TestReleaseModifiersFlushesHeldKeys(t *testing.T) {
	inj := &recordingInjector{blockOK: true}
	svc := NewService(inj)
	defer svc.Close()

	svc.Key(&protocol.KeyEvent{Chr: protocol.ControlKeyControl, Down: true})
	svc.Key(&protocol.KeyEvent{Chr: protocol.ControlKeyShift, Down: true})
	svc.Key(&protocol.KeyEvent{Chr: protocol.ControlKeyShift, Down: false})
	svc.Key(&protocol.KeyEvent{Chr: 'a', Down: true})

	waitFor(t, func() bool {
		inj.mu.Lock()
		defer inj.mu.Unlock()
		return len(inj.keys) == 4
	})

	svc.ReleaseModifiers()
	inj.mu.Lock()
	defer inj.mu.Unlock()
	if len(inj.keyUps) != 1 || inj.keyUps[0] != protocol.ControlKeyControl {
		t.Fatalf("expected ctrl release only, got %v", inj.keyUps)
	}
}

func TestReleaseModifiersIdempotent(t *testing.T) {
	inj := &recordingInjector{blockOK: true}
	svc := NewService(inj)
	defer svc.Close()

	svc.Key(&protocol.KeyEvent{Chr: protocol.ControlKeyAlt, Down: true})
	waitFor(t, func() bool {
		inj.mu.Lock()
		defer inj.mu.Unlock()
		return len(inj.keys) == 1
	})

	svc.ReleaseModifiers()
	svc.ReleaseModifiers()
	inj.mu.Lock()
	defer inj.mu.Unlock()
	if len(inj.keyUps) != 1 {
		t.Fatalf("second release flushed again: %v", inj.keyUps)
	}
}

func TestSetBlockInput(t *testing.T) {
	inj := &recordingInjector{blockOK: true}
	svc := NewService(inj)
	defer svc.Close()

	if !svc.SetBlockInput(true) {
		t.Fatalf("block on failed")
	}
	if !svc.Blocked() {
		t.Fatalf("service does not report blocked")
	}
	if !svc.SetBlockInput(false) {
		t.Fatalf("block off failed")
	}
	if svc.Blocked() {
		t.Fatalf("service still reports blocked")
	}
}

func TestSetBlockInputReportsInjectorFailure(t *testing.T) {
	inj := &recordingInjector{blockOK: false}
	svc := NewService(inj)
	defer svc.Close()

	if svc.SetBlockInput(true) {
		t.Fatalf("expected failure from injector")
	}
	if svc.Blocked() {
		t.Fatalf("failed toggle recorded as blocked")
	}
}
