package conn

import (
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"rdeskd/internal/audit"
	"rdeskd/internal/auth"
	"rdeskd/internal/config"
	"rdeskd/internal/constants"
	"rdeskd/internal/input"
	"rdeskd/internal/ipc"
	"rdeskd/internal/logger"
	"rdeskd/internal/protocol"
	"rdeskd/internal/server"
	"rdeskd/internal/session"
)

// State tracks where a connection is in its lifecycle.
type State int

const (
	StateConnecting State = iota
	StateUnauthorized
	StateAuthorized
	StateClosing
	StateClosed
)

var nextConnID int64

// Deps carries everything a connection needs from the process. All fields
// except CM and Injector are required.
type Deps struct {
	Cfg      *config.Config
	Registry *server.Registry
	Sessions session.Store
	Throttle *auth.Throttle
	Audit    *audit.Emitter
	Input    *input.Service

	// CM is the connection-manager channel; nil when no manager runs.
	CM *ipc.Channel

	// DesktopReady reports whether a desktop session can serve the peer.
	DesktopReady func() bool
	// Displays enumerates attached displays for the logon response.
	Displays func() []protocol.DisplayInfo
	// CaptureProbe grabs one test frame before privacy mode commits.
	CaptureProbe func(display int) error
	// LockScreen locks the local session at teardown when requested.
	LockScreen func()
	// Restart reboots the host on a permitted peer request.
	Restart func()
	// Elevate runs the privilege elevation flow; the returned error text goes
	// back to the peer, empty meaning success.
	Elevate func(req *protocol.ElevationRequest) error
	// PortableRunning reports whether the elevated portable service is up.
	PortableRunning func() bool
	// ApplyClipboard writes peer clipboard content into the local clipboard.
	ApplyClipboard func(cb *protocol.Clipboard)
	// AudioSink receives peer microphone frames during an accepted voice call.
	AudioSink func(frame *protocol.AudioFrame)
}

// Connection owns one peer for its whole life: hash exchange, login,
// the authorized event loop, and teardown. All mutable state is owned by
// the loop goroutine; Send and ID are the only cross-goroutine entry points.
type Connection struct {
	deps Deps

	id     int
	stream *protocol.Stream
	ip     string
	jlog   *logger.Logger

	state State

	// outbound queues drained by the loop; video is polled first
	video   chan *protocol.Message
	general chan *protocol.Message

	peerMsgs chan *protocol.Message
	fromCM   chan *ipc.Data
	toCM     chan *ipc.Data
	kick     <-chan []int

	// peer identity, set by the first login request
	peerID      string
	peerName    string
	peerVersion string
	sessionID   uint64

	hash protocol.Hash

	fileTransfer *protocol.FileTransferMode
	portForward  *protocol.PortForwardMode

	// loginOpts holds the option block of the login request until the
	// connection is authorized; options never apply before that.
	loginOpts *protocol.OptionMessage

	// rejectAt is set when a terminal login error was sent; the socket is
	// torn down a grace period later so the peer can render the message.
	rejectAt time.Time

	perms perms
	opts  options

	// session bookkeeping
	authorized       bool
	chatUnanswered   bool
	fileTransferred  bool
	privacyOn        bool
	voiceCallActive  bool
	voiceCallTS      int64
	audioInputBefore string
	portableRunning  bool

	lastRecv   time.Time
	lastActive time.Time // input or chat; drives auto-disconnect
	delayEcho  int64     // outstanding test-delay stamp, 0 when answered
	netDelay   uint32

	jobs      map[int32]*TransferJob
	writes    map[int32]*writeJob
	fileTimer *time.Timer

	// readerGate pauses the reader between frames until authorization
	// settles, so a raw tunnel can take the transport over cleanly.
	readerGate atomic.Bool
	resumeRead chan struct{}
	resumeOnce sync.Once
	done       chan struct{}

	closed  atomic.Bool
	closeMu sync.Mutex
}

// New wraps an accepted peer transport. The CM stream pump starts
// immediately so the manager sees the connection before authorization.
func New(deps Deps, raw net.Conn) *Connection {
	id := int(atomic.AddInt64(&nextConnID, 1))

	c := &Connection{
		deps:     deps,
		id:       id,
		stream:   protocol.NewStream(raw),
		state:    StateConnecting,
		video:    make(chan *protocol.Message, 256),
		general:  make(chan *protocol.Message, 4096),
		peerMsgs: make(chan *protocol.Message, 256),
		fromCM:   make(chan *ipc.Data, 256),
		toCM:     make(chan *ipc.Data, 256),
		jobs:     make(map[int32]*TransferJob),
		writes:   make(map[int32]*writeJob),
		perms:    permsFromConfig(deps.Cfg),
		opts: options{
			lockAfterSessionEnd: deps.Cfg.LockAfterSessionEnd,
			enableFileTransfer:  true,
		},
		lastRecv:   time.Now(),
		lastActive: time.Now(),
		resumeRead: make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	c.readerGate.Store(true)
	if host, _, err := net.SplitHostPort(raw.RemoteAddr().String()); err == nil {
		c.ip = host
	} else {
		c.ip = raw.RemoteAddr().String()
	}
	if jl, err := logger.NewLogger(id); err == nil {
		c.jlog = jl
	}
	return c
}

// ID implements server.Subscriber.
func (c *Connection) ID() int { return c.id }

// Send implements server.Subscriber. Video-priority traffic may be dropped
// under backpressure; general traffic overflowing the queue is terminal.
func (c *Connection) Send(msg *protocol.Message) {
	if c.closed.Load() {
		return
	}
	if msg.IsVideoPriority() {
		select {
		case c.video <- msg:
		default:
			// stale frames are droppable
		}
		return
	}
	select {
	case c.general <- msg:
	default:
		log.Printf("#%d outbound queue overflow", c.id)
		c.closeWith(constants.ReasonTimeout, false)
	}
}

// SendToCM queues a message for the connection manager.
func (c *Connection) SendToCM(d *ipc.Data) {
	select {
	case c.toCM <- d:
	default:
	}
}

// Start runs the connection to completion. It blocks until teardown.
func (c *Connection) Start() {
	defer c.teardown()

	c.kick = c.deps.Registry.AddAlive(c.id)

	if c.deps.CM != nil {
		go ipc.Pump(c.deps.CM, c.fromCM, c.toCM)
	}

	challenge, err := auth.NewChallenge(constants.ChallengeLength)
	if err != nil {
		log.Printf("#%d challenge generation failed: %v", c.id, err)
		return
	}
	c.hash = protocol.Hash{Salt: c.deps.Cfg.Salt, Challenge: challenge}
	if err := c.stream.Send(&protocol.Message{Hash: &c.hash}); err != nil {
		log.Printf("#%d hash send failed: %v", c.id, err)
		return
	}
	c.state = StateUnauthorized
	c.logEvent("connection open, challenge issued")

	go c.readPeer()
	c.loop()
}

func (c *Connection) readPeer() {
	for {
		msg, err := c.stream.Next()
		if err != nil {
			close(c.peerMsgs)
			return
		}
		if msg == nil {
			continue // malformed frame, skipped
		}
		select {
		case c.peerMsgs <- msg:
		case <-c.done:
			return
		}
		if c.readerGate.Load() {
			if _, ok := <-c.resumeRead; !ok {
				return // raw relay owns the transport now
			}
		}
	}
}

func (c *Connection) loop() {
	testDelay := time.NewTicker(constants.TestDelayInterval)
	defer testDelay.Stop()
	housekeep := time.NewTicker(constants.HousekeepInterval)
	defer housekeep.Stop()
	c.fileTimer = time.NewTimer(constants.FileTimerIdle)
	defer c.fileTimer.Stop()

	for !c.closed.Load() {
		// an authorized tunnel takes over the transport entirely
		if c.portForward != nil && c.authorized {
			c.stopReader()
			c.runPortForward()
			return
		}

		// video frames preempt everything else
		select {
		case msg := <-c.video:
			c.writePeer(msg, true)
			continue
		default:
		}

		select {
		case msg := <-c.video:
			c.writePeer(msg, true)

		case msg := <-c.general:
			if msg.Misc != nil && msg.Misc.StopService != nil && *msg.Misc.StopService {
				c.closeWith(constants.ReasonPeerClose, true)
				return
			}
			c.writePeer(msg, false)

		case msg, ok := <-c.peerMsgs:
			if !ok {
				c.closeWith(constants.ReasonResetByPeer, true)
				return
			}
			c.lastRecv = time.Now()
			gated := c.readerGate.Load()
			c.onMessage(msg)
			if gated {
				if c.portForward != nil {
					if c.authorized {
						c.stopReader()
						c.runPortForward()
						return
					}
					// keep the reader parked until the operator decides
					continue
				}
				if c.authorized {
					c.readerGate.Store(false)
				}
				select {
				case c.resumeRead <- struct{}{}:
				default:
				}
			}

		case d, ok := <-c.fromCM:
			if !ok {
				c.closeWith(constants.ReasonPeerClose, true)
				return
			}
			c.onCM(d)

		case ids := <-c.kick:
			if kickMatches(ids, c.id) {
				c.closeWith(constants.ReasonWebConsole, true)
				return
			}

		case <-testDelay.C:
			c.onTestDelayTick()

		case <-housekeep.C:
			c.onHousekeep()

		case <-c.fileTimer.C:
			c.onFileTimer()
		}
	}
}

func kickMatches(ids []int, id int) bool {
	if len(ids) == 0 {
		return true // empty list means everyone
	}
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func (c *Connection) writePeer(msg *protocol.Message, video bool) {
	if video {
		c.stream.SetSendTimeout(constants.SendTimeoutVideo)
	} else {
		c.stream.SetSendTimeout(constants.SendTimeoutOther)
	}
	if err := c.stream.Send(msg); err != nil {
		if c.jlog != nil {
			c.jlog.LogError("out", err, c.ip)
		}
		c.closeWith(constants.ReasonResetByPeer, true)
	}
}

// onTestDelayTick sends the next latency probe, and closes the connection
// when the peer has been silent past the allowance.
func (c *Connection) onTestDelayTick() {
	if time.Since(c.lastRecv) > constants.PeerSilenceTimeout {
		c.closeWith(constants.ReasonTimeout, true)
		return
	}
	if c.delayEcho != 0 {
		return // previous probe still in flight
	}
	now := time.Now().UnixMilli()
	c.delayEcho = now
	c.writePeer(&protocol.Message{TestDelay: &protocol.TestDelay{
		Time:          now,
		LastDelay:     c.netDelay,
		TargetBitrate: c.targetBitrate(),
	}}, false)
}

func (c *Connection) onHousekeep() {
	if !c.authorized && !c.rejectAt.IsZero() &&
		time.Since(c.rejectAt) >= constants.LoginRejectGrace {
		c.closePeer("login rejected", false, false)
		return
	}
	if c.authorized && c.deps.Cfg.AutoDisconnect > 0 &&
		time.Since(c.lastActive) > c.deps.Cfg.AutoDisconnect {
		c.closeWith(constants.ReasonInactivity, true)
		return
	}
	if c.authorized && c.peerID != "" {
		c.deps.Sessions.Touch(c.peerID)
	}
	c.pollPortableService()
}

func (c *Connection) logEvent(msg string) {
	if c.jlog != nil {
		c.jlog.LogEvent(msg)
	}
	log.Printf("#%d %s", c.id, msg)
}

// closeWith starts teardown with the peer-visible reason. Idempotent.
func (c *Connection) closeWith(reason string, lock bool) {
	c.closePeer(reason, lock, reason != constants.ReasonResetByPeer)
}

func (c *Connection) closePeer(reason string, lock, notify bool) {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.state = StateClosing
	c.logEvent("closing: " + reason)

	if notify {
		c.stream.SetSendTimeout(time.Second)
		c.stream.Send(protocol.NewCloseReason(reason))
	}

	if lock && c.opts.lockAfterSessionEnd && c.perms.keyboard && c.deps.LockScreen != nil {
		c.deps.LockScreen()
	}
}

// stopReader permanently releases the parked reader goroutine.
func (c *Connection) stopReader() {
	c.resumeOnce.Do(func() { close(c.resumeRead) })
}

// teardown releases every shared resource exactly once.
func (c *Connection) teardown() {
	c.closed.Store(true)
	c.stopReader()
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.state == StateClosed {
		return
	}

	if c.perms.keyboard {
		c.deps.Input.ReleaseModifiers()
	}
	if c.deps.Input.Blocked() {
		c.deps.Input.SetBlockInput(false)
	}
	if c.privacyOn {
		c.deps.Registry.ReleasePrivacy(c.id)
		c.notifyPrivacy(protocol.PrvOffSucceeded, "")
	}
	if c.voiceCallActive {
		c.stopVoiceCall()
	}

	if c.authorized {
		c.deps.Registry.RemoveConnection(c.id)
		c.deps.Audit.PostConn("close", c.id, c.peerID, c.peerName, c.ip, c.sessionID)
		if c.chatUnanswered || (c.fileTransferred && c.portForward == nil) {
			c.SendToCM(&ipc.Data{Type: ipc.TypeDisconnected})
		} else {
			c.SendToCM(&ipc.Data{Type: ipc.TypeClose})
		}
	}
	close(c.toCM)

	c.deps.Registry.RemoveAlive(c.id)
	close(c.done)
	c.stream.Close()
	if c.jlog != nil {
		c.jlog.Close()
	}
	c.state = StateClosed
	log.Printf("#%d closed", c.id)
}
