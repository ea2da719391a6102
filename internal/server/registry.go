package server

import (
	"log"
	"sync"
	"time"

	"rdeskd/internal/constants"
	"rdeskd/internal/protocol"
)

// Subscriber is the handle a connection registers with the shared registry.
// Send must not block; connections back it with their outbound queues.
type Subscriber interface {
	ID() int
	Send(msg *protocol.Message)
}

const switchSidesWindow = 10 * time.Second

type switchSidesEntry struct {
	at   time.Time
	uuid string
}

// Registry is the process-wide shared state between connections: the alive
// set, per-service subscriber lists, privacy-mode ownership and the
// force-disconnect fan-out. All methods hold the lock only for the duration
// of one read-modify-write.
type Registry struct {
	mu          sync.Mutex
	conns       map[int]Subscriber
	services    map[string]map[int]Subscriber
	alive       map[int]struct{}
	privacyConn int // 0 = unowned
	kicks       map[int]chan []int
	switchSides map[string]switchSidesEntry

	// OnAllClosed runs when the alive set becomes empty (resolution reset,
	// privacy-mode teardown and similar global side effects).
	OnAllClosed func()
}

func NewRegistry() *Registry {
	return &Registry{
		conns:       make(map[int]Subscriber),
		services:    make(map[string]map[int]Subscriber),
		alive:       make(map[int]struct{}),
		kicks:       make(map[int]chan []int),
		switchSides: make(map[string]switchSidesEntry),
	}
}

// AddAlive registers a connection id in the alive set and returns its kick
// channel for the force-disconnect signal.
func (r *Registry) AddAlive(id int) <-chan []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alive[id] = struct{}{}
	ch := make(chan []int, 1)
	r.kicks[id] = ch
	return ch
}

// RemoveAlive deregisters id. When the set becomes empty the global reset
// hook fires.
func (r *Registry) RemoveAlive(id int) {
	r.mu.Lock()
	delete(r.alive, id)
	delete(r.kicks, id)
	empty := len(r.alive) == 0
	hook := r.OnAllClosed
	r.mu.Unlock()

	if empty && hook != nil {
		hook()
	}
}

func (r *Registry) Alive() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int, 0, len(r.alive))
	for id := range r.alive {
		ids = append(ids, id)
	}
	return ids
}

// Kick asks the listed connections to close ("force-disconnect by id").
func (r *Registry) Kick(ids ...int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range r.kicks {
		select {
		case ch <- ids:
		default:
		}
	}
}

// AddConnection registers the subscriber handle and subscribes it to every
// service except those in noperms.
func (r *Registry) AddConnection(sub Subscriber, noperms []string) {
	denied := make(map[string]bool, len(noperms))
	for _, n := range noperms {
		denied[n] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[sub.ID()] = sub
	for _, name := range []string{
		constants.ServiceVideo,
		constants.ServiceCursor,
		constants.ServiceCursorPos,
		constants.ServiceClipboard,
		constants.ServiceAudio,
	} {
		if !denied[name] {
			r.subscribeLocked(name, sub, true)
		}
	}
}

// RemoveConnection drops the subscriber from every service list.
func (r *Registry) RemoveConnection(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, id)
	for _, subs := range r.services {
		delete(subs, id)
	}
}

// Subscribe sets the desired subscription state for one service. Redundant
// pushes (no state change) are suppressed and reported as false, since
// repeated image/audio service churn is costly.
func (r *Registry) Subscribe(name string, sub Subscriber, enabled bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subscribeLocked(name, sub, enabled)
}

func (r *Registry) subscribeLocked(name string, sub Subscriber, enabled bool) bool {
	subs, ok := r.services[name]
	if !ok {
		subs = make(map[int]Subscriber)
		r.services[name] = subs
	}
	_, present := subs[sub.ID()]
	if enabled == present {
		return false
	}
	if enabled {
		subs[sub.ID()] = sub
	} else {
		delete(subs, sub.ID())
	}
	return true
}

// IsSubscribed reports whether connection id receives service name.
func (r *Registry) IsSubscribed(name string, id int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.services[name][id]
	return ok
}

// Publish fans msg out to every subscriber of service name.
func (r *Registry) Publish(name string, msg *protocol.Message) {
	r.mu.Lock()
	subs := make([]Subscriber, 0, len(r.services[name]))
	for _, sub := range r.services[name] {
		subs = append(subs, sub)
	}
	r.mu.Unlock()

	for _, sub := range subs {
		sub.Send(msg)
	}
}

// PrivacyOwner returns the id of the connection holding privacy mode, 0 when
// unowned.
func (r *Registry) PrivacyOwner() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.privacyConn
}

// AcquirePrivacy claims privacy-mode ownership for id. Ownership is
// exclusive across alive connections.
func (r *Registry) AcquirePrivacy(id int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.privacyConn != 0 && r.privacyConn != id {
		return false
	}
	r.privacyConn = id
	return true
}

// ReleasePrivacy drops ownership held by id; releasing an unheld claim is a
// no-op. id 0 forces release.
func (r *Registry) ReleasePrivacy(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id == 0 || r.privacyConn == id {
		if r.privacyConn != 0 {
			log.Printf("#%d privacy mode released", r.privacyConn)
		}
		r.privacyConn = 0
	}
}

// InsertSwitchSidesUUID records a pending switch-sides token for peer id.
func (r *Registry) InsertSwitchSidesUUID(peerID, uuid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.switchSides[peerID] = switchSidesEntry{at: time.Now(), uuid: uuid}
}

// TakeSwitchSidesUUID removes and returns the pending token for peer id if
// it is still inside the 10 second window.
func (r *Registry) TakeSwitchSidesUUID(peerID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, e := range r.switchSides {
		if time.Since(e.at) >= switchSidesWindow {
			delete(r.switchSides, id)
		}
	}
	e, ok := r.switchSides[peerID]
	if ok {
		delete(r.switchSides, peerID)
		return e.uuid, true
	}
	return "", false
}
