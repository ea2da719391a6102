package input

import (
	"log"
	"sync"
	"time"

	"rdeskd/internal/constants"
	"rdeskd/internal/protocol"
)

// Injector is the OS-specific event sink. The default no-op injector keeps
// the service runnable on headless hosts and in tests.
type Injector interface {
	Mouse(ev *protocol.MouseEvent)
	Key(ev *protocol.KeyEvent)
	Pointer(ev *protocol.PointerEvent)
	// KeyUp releases a single control key, used when flushing stuck
	// modifiers at session end.
	KeyUp(chr uint32)
	// SetBlocked toggles local keyboard/mouse blocking and reports whether
	// the toggle took effect.
	SetBlocked(on bool) bool
}

type NopInjector struct{}

func (NopInjector) Mouse(*protocol.MouseEvent)     {}
func (NopInjector) Key(*protocol.KeyEvent)         {}
func (NopInjector) Pointer(*protocol.PointerEvent) {}
func (NopInjector) KeyUp(uint32)                   {}
func (NopInjector) SetBlocked(bool) bool           { return true }

type cmdKind int

const (
	cmdMouse cmdKind = iota
	cmdKey
	cmdPointer
	cmdBlockOn
	cmdBlockOff
)

type command struct {
	kind    cmdKind
	mouse   *protocol.MouseEvent
	key     *protocol.KeyEvent
	pointer *protocol.PointerEvent
	reply   chan bool
}

// Service owns the single injection worker. All connections funnel their
// input through one goroutine so events keep their arrival order and the OS
// hooks are touched from one thread only.
type Service struct {
	inj Injector

	mu        sync.Mutex
	modifiers map[uint32]bool
	blocked   bool

	cmds chan command
	done chan struct{}
}

func NewService(inj Injector) *Service {
	if inj == nil {
		inj = NopInjector{}
	}
	s := &Service{
		inj:       inj,
		modifiers: make(map[uint32]bool),
		cmds:      make(chan command, 4096),
		done:      make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Service) run() {
	defer close(s.done)
	for cmd := range s.cmds {
		switch cmd.kind {
		case cmdMouse:
			s.inj.Mouse(cmd.mouse)
		case cmdKey:
			s.trackModifier(cmd.key)
			s.inj.Key(cmd.key)
		case cmdPointer:
			s.inj.Pointer(cmd.pointer)
		case cmdBlockOn, cmdBlockOff:
			on := cmd.kind == cmdBlockOn
			ok := s.inj.SetBlocked(on)
			s.mu.Lock()
			if ok {
				s.blocked = on
			}
			s.mu.Unlock()
			if cmd.reply != nil {
				cmd.reply <- ok
			}
		}
	}
}

func (s *Service) trackModifier(ev *protocol.KeyEvent) {
	if !protocol.IsModifierKey(ev.Chr) || ev.Press {
		return
	}
	s.mu.Lock()
	if ev.Down {
		s.modifiers[ev.Chr] = true
	} else {
		delete(s.modifiers, ev.Chr)
	}
	s.mu.Unlock()
}

func (s *Service) Mouse(ev *protocol.MouseEvent) {
	s.enqueue(command{kind: cmdMouse, mouse: ev})
}

func (s *Service) Key(ev *protocol.KeyEvent) {
	s.enqueue(command{kind: cmdKey, key: ev})
}

func (s *Service) Pointer(ev *protocol.PointerEvent) {
	s.enqueue(command{kind: cmdPointer, pointer: ev})
}

func (s *Service) enqueue(cmd command) {
	select {
	case s.cmds <- cmd:
	default:
		log.Println("input queue full, dropping event")
	}
}

// SetBlockInput toggles local input blocking and waits for the worker to
// confirm. A worker that does not answer within the reply timeout is treated
// as success so a wedged hook cannot leave the session unusable.
func (s *Service) SetBlockInput(on bool) bool {
	kind := cmdBlockOff
	if on {
		kind = cmdBlockOn
	}
	reply := make(chan bool, 1)
	s.enqueue(command{kind: kind, reply: reply})
	select {
	case ok := <-reply:
		return ok
	case <-time.After(constants.BlockInputReplyTimeout):
		return true
	}
}

func (s *Service) Blocked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blocked
}

// ReleaseModifiers sends key-up for every modifier still held down by the
// peer, then forgets them. Called at session end so a dropped connection
// cannot leave ctrl or alt stuck.
func (s *Service) ReleaseModifiers() {
	s.mu.Lock()
	held := make([]uint32, 0, len(s.modifiers))
	for k := range s.modifiers {
		held = append(held, k)
	}
	s.modifiers = make(map[uint32]bool)
	s.mu.Unlock()

	for _, k := range held {
		s.inj.KeyUp(k)
	}
}

// Close stops the worker after draining queued events.
func (s *Service) Close() {
	close(s.cmds)
	<-s.done
}
