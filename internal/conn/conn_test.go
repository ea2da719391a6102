package conn

import (
	"errors"
	"net"
	"testing"
	"time"

	"rdeskd/internal/audit"
	"rdeskd/internal/auth"
	"rdeskd/internal/config"
	"rdeskd/internal/constants"
	"rdeskd/internal/input"
	"rdeskd/internal/protocol"
	"rdeskd/internal/server"
	"rdeskd/internal/session"
)

const (
	testID      = "123456789"
	testSalt    = "testsalt"
	testTempPwd = "k7m2p9"
)

type harness struct {
	t        *testing.T
	cfg      *config.Config
	registry *server.Registry
	sessions session.Store
	throttle *auth.Throttle
	conn     *Connection
	client   *protocol.Stream
	hash     protocol.Hash
	done     chan struct{}
}

type harnessOpts struct {
	registry *server.Registry
	sessions session.Store
	throttle *auth.Throttle
	auditor  *audit.Emitter
	mutate   func(*config.Config)
	deps     func(*Deps)
}

func newHarness(t *testing.T, o harnessOpts) *harness {
	t.Helper()

	cfg := &config.Config{
		ID:               testID,
		Salt:             testSalt,
		TemporaryEnabled: true,
		EnableKeyboard:   true,
		EnableClipboard:  true,
		EnableAudio:      true,
		EnableFile:       true,
		EnableTunnel:     true,
	}
	cfg.SetTemporaryPassword(testTempPwd)
	if o.mutate != nil {
		o.mutate(cfg)
	}

	if o.registry == nil {
		o.registry = server.NewRegistry()
	}
	if o.sessions == nil {
		o.sessions = session.NewMemoryStore()
	}
	if o.throttle == nil {
		o.throttle = auth.NewThrottle()
	}
	if o.auditor == nil {
		o.auditor = audit.NewEmitter("", testID)
	}

	svc := input.NewService(nil)
	t.Cleanup(svc.Close)

	deps := Deps{
		Cfg:          cfg,
		Registry:     o.registry,
		Sessions:     o.sessions,
		Throttle:     o.throttle,
		Audit:        o.auditor,
		Input:        svc,
		DesktopReady: func() bool { return true },
	}
	if o.deps != nil {
		o.deps(&deps)
	}

	a, b := net.Pipe()
	c := New(deps, a)
	done := make(chan struct{})
	go func() {
		c.Start()
		close(done)
	}()

	h := &harness{
		t:        t,
		cfg:      cfg,
		registry: o.registry,
		sessions: o.sessions,
		throttle: o.throttle,
		conn:     c,
		client:   protocol.NewStream(b),
		done:     done,
	}
	t.Cleanup(func() {
		h.client.Close()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Errorf("connection did not tear down")
		}
	})

	msg := h.expect()
	if msg.Hash == nil {
		t.Fatalf("first message was not the hash: %+v", msg)
	}
	h.hash = *msg.Hash
	return h
}

// expect reads the next non-probe message from the server.
func (h *harness) expect() *protocol.Message {
	h.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		msg, err := h.client.Next()
		if err != nil {
			h.t.Fatalf("client read: %v", err)
		}
		if msg == nil || msg.TestDelay != nil {
			continue
		}
		return msg
	}
	h.t.Fatalf("no message within deadline")
	return nil
}

func (h *harness) login(lr *protocol.LoginRequest) *protocol.LoginResponse {
	h.t.Helper()
	if err := h.client.Send(&protocol.Message{LoginRequest: lr}); err != nil {
		h.t.Fatalf("client send: %v", err)
	}
	msg := h.expect()
	if msg.LoginResponse == nil {
		h.t.Fatalf("expected login response, got %+v", msg)
	}
	return msg.LoginResponse
}

// drain keeps reading the client side of the pipe so server writes
// (e.g. latency probes) never block the event loop.
func (h *harness) drain() {
	go func() {
		for {
			if _, err := h.client.Next(); err != nil {
				return
			}
		}
	}()
}

func (h *harness) loginRequest(password string) *protocol.LoginRequest {
	lr := &protocol.LoginRequest{
		Username:  testID,
		MyID:      "peer42",
		MyName:    "alice",
		SessionID: 7,
		Version:   "1.4.0",
	}
	if password != "" {
		lr.PasswordHash = auth.HashPassword(password, h.hash.Salt, h.hash.Challenge)
	}
	return lr
}

func TestLoginSuccess(t *testing.T) {
	h := newHarness(t, harnessOpts{})

	res := h.login(h.loginRequest(testTempPwd))
	if res.Error != "" {
		t.Fatalf("login failed: %s", res.Error)
	}
	if res.PeerInfo == nil {
		t.Fatalf("authorized response missing peer info")
	}
	if res.PeerInfo.Hostname == "" || res.PeerInfo.Platform == "" {
		t.Fatalf("peer info incomplete: %+v", res.PeerInfo)
	}

	// a resumption record exists for the peer now
	if rec, ok := h.sessions.Get("peer42"); !ok || !rec.Matches("alice", 7) {
		t.Fatalf("session record missing after login")
	}
}

func TestLoginWrongPassword(t *testing.T) {
	h := newHarness(t, harnessOpts{})

	res := h.login(h.loginRequest("not-the-password"))
	if res.Error != constants.MsgPasswordWrong {
		t.Fatalf("expected %q, got %q", constants.MsgPasswordWrong, res.Error)
	}
}

func TestLoginWrongTarget(t *testing.T) {
	h := newHarness(t, harnessOpts{})

	lr := h.loginRequest(testTempPwd)
	lr.Username = "987654321"
	if res := h.login(lr); res.Error != constants.MsgOffline {
		t.Fatalf("expected %q, got %q", constants.MsgOffline, res.Error)
	}
}

func TestLoginWhitelistBlocked(t *testing.T) {
	h := newHarness(t, harnessOpts{
		mutate: func(cfg *config.Config) {
			cfg.Whitelist = []string{"192.168.1.10", "10.8.0.0/24"}
		},
	})

	if res := h.login(h.loginRequest(testTempPwd)); res.Error != constants.MsgIPBlocked {
		t.Fatalf("expected %q, got %q", constants.MsgIPBlocked, res.Error)
	}
}

func TestLoginFileTransferDenied(t *testing.T) {
	h := newHarness(t, harnessOpts{
		mutate: func(cfg *config.Config) { cfg.EnableFile = false },
	})

	lr := h.loginRequest(testTempPwd)
	lr.FileTransfer = &protocol.FileTransferMode{Dir: "/tmp"}
	if res := h.login(lr); res.Error != constants.MsgNoFilePermission {
		t.Fatalf("expected %q, got %q", constants.MsgNoFilePermission, res.Error)
	}
}

func TestLoginTunnelDenied(t *testing.T) {
	h := newHarness(t, harnessOpts{
		mutate: func(cfg *config.Config) { cfg.EnableTunnel = false },
	})

	lr := h.loginRequest(testTempPwd)
	lr.PortForward = &protocol.PortForwardMode{Host: "localhost", Port: 8080}
	if res := h.login(lr); res.Error != constants.MsgNoTunnelPermission {
		t.Fatalf("expected %q, got %q", constants.MsgNoTunnelPermission, res.Error)
	}
}

func TestLoginClickOnlyRefusesPassword(t *testing.T) {
	h := newHarness(t, harnessOpts{
		mutate: func(cfg *config.Config) { cfg.SetApproveMode(config.ApproveClick) },
	})

	if res := h.login(h.loginRequest(testTempPwd)); res.Error != constants.MsgNoPasswordAccess {
		t.Fatalf("expected %q, got %q", constants.MsgNoPasswordAccess, res.Error)
	}
}

func TestLoginThrottleLockout(t *testing.T) {
	th := auth.NewThrottle()
	h := newHarness(t, harnessOpts{throttle: th})

	for i := 0; i < constants.MaxTotalLoginFailures; i++ {
		th.RecordFailure(h.conn.ip)
	}
	if res := h.login(h.loginRequest(testTempPwd)); res.Error != constants.MsgTooManyAttempts {
		t.Fatalf("expected %q, got %q", constants.MsgTooManyAttempts, res.Error)
	}
}

func TestSessionResumption(t *testing.T) {
	sessions := session.NewMemoryStore()
	sessions.Save("peer42", &session.Session{
		Name:           "alice",
		SessionID:      7,
		RandomPassword: "old-rotated-pw",
	})
	h := newHarness(t, harnessOpts{sessions: sessions})

	// the cached password no longer matches any configured one
	h.cfg.SetTemporaryPassword("fresh-pw")

	res := h.login(h.loginRequest("old-rotated-pw"))
	if res.Error != "" || res.PeerInfo == nil {
		t.Fatalf("resumption rejected: %+v", res)
	}
}

func TestSessionResumptionRejectsChangedSessionID(t *testing.T) {
	sessions := session.NewMemoryStore()
	sessions.Save("peer42", &session.Session{
		Name:           "alice",
		SessionID:      999, // different session
		RandomPassword: "old-rotated-pw",
	})
	h := newHarness(t, harnessOpts{sessions: sessions})

	res := h.login(h.loginRequest("old-rotated-pw"))
	if res.Error != constants.MsgPasswordWrong {
		t.Fatalf("expected %q, got %q", constants.MsgPasswordWrong, res.Error)
	}
}

func TestKickClosesWithConsoleReason(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	h.login(h.loginRequest(testTempPwd))

	h.registry.Kick(h.conn.id)

	msg := h.expect()
	if msg.Misc == nil || msg.Misc.CloseReason == nil {
		t.Fatalf("expected close reason, got %+v", msg)
	}
	if *msg.Misc.CloseReason != constants.ReasonWebConsole {
		t.Fatalf("expected %q, got %q", constants.ReasonWebConsole, *msg.Misc.CloseReason)
	}
	select {
	case <-h.done:
	case <-time.After(3 * time.Second):
		t.Fatalf("connection still running after kick")
	}
}

func TestPrivacyModeExclusiveAcrossConnections(t *testing.T) {
	registry := server.NewRegistry()
	probe := func(int) error { return nil }

	h1 := newHarness(t, harnessOpts{
		registry: registry,
		deps:     func(d *Deps) { d.CaptureProbe = probe },
	})
	h1.login(h1.loginRequest(testTempPwd))

	h1.client.Send(&protocol.Message{Misc: &protocol.Misc{
		Option: &protocol.OptionMessage{PrivacyMode: protocol.TriYes},
	}})
	msg := h1.expect()
	if msg.Misc == nil || msg.Misc.BackNotification == nil ||
		msg.Misc.BackNotification.PrivacyModeState != protocol.PrvOnSucceeded {
		t.Fatalf("privacy mode did not engage: %+v", msg)
	}

	h2 := newHarness(t, harnessOpts{registry: registry})
	if res := h2.login(h2.loginRequest(testTempPwd)); res.Error != constants.MsgPrivacyModeOn {
		t.Fatalf("expected %q, got %q", constants.MsgPrivacyModeOn, res.Error)
	}
}

func TestPrivacyModeProbeFailureRollsBack(t *testing.T) {
	registry := server.NewRegistry()
	h := newHarness(t, harnessOpts{
		registry: registry,
		deps: func(d *Deps) {
			d.CaptureProbe = func(int) error { return errors.New("no frame") }
		},
	})
	h.login(h.loginRequest(testTempPwd))

	h.client.Send(&protocol.Message{Misc: &protocol.Misc{
		Option: &protocol.OptionMessage{PrivacyMode: protocol.TriYes},
	}})
	msg := h.expect()
	if msg.Misc == nil || msg.Misc.BackNotification == nil ||
		msg.Misc.BackNotification.PrivacyModeState != protocol.PrvOnFailed {
		t.Fatalf("expected on_failed, got %+v", msg)
	}
	if registry.PrivacyOwner() != 0 {
		t.Fatalf("failed probe left privacy ownership behind")
	}
}

func TestLoginOptionsIgnoredUntilAuthorized(t *testing.T) {
	registry := server.NewRegistry()
	h := newHarness(t, harnessOpts{
		registry: registry,
		deps:     func(d *Deps) { d.CaptureProbe = func(int) error { return nil } },
	})

	// a failed login must not act on the option block it carried
	lr := h.loginRequest("not-the-password")
	lr.Option = &protocol.OptionMessage{
		BlockInput:  protocol.TriYes,
		PrivacyMode: protocol.TriYes,
	}
	if res := h.login(lr); res.Error != constants.MsgPasswordWrong {
		t.Fatalf("expected wrong password, got %q", res.Error)
	}
	if h.conn.deps.Input.Blocked() {
		t.Fatalf("input blocked by an unauthenticated peer")
	}
	if registry.PrivacyOwner() != 0 {
		t.Fatalf("privacy mode engaged by an unauthenticated peer")
	}

	// the same options apply once the credentials check out
	lr = h.loginRequest(testTempPwd)
	lr.Option = &protocol.OptionMessage{PrivacyMode: protocol.TriYes}
	if res := h.login(lr); res.Error != "" || res.PeerInfo == nil {
		t.Fatalf("login failed: %+v", res)
	}
	msg := h.expect()
	if msg.Misc == nil || msg.Misc.BackNotification == nil ||
		msg.Misc.BackNotification.PrivacyModeState != protocol.PrvOnSucceeded {
		t.Fatalf("privacy mode not applied after authorization: %+v", msg)
	}
	if registry.PrivacyOwner() != h.conn.id {
		t.Fatalf("privacy ownership not held after authorized login")
	}
}

func TestLoginRejectionClosesSocket(t *testing.T) {
	h := newHarness(t, harnessOpts{
		mutate: func(cfg *config.Config) { cfg.EnableFile = false },
	})

	lr := h.loginRequest(testTempPwd)
	lr.FileTransfer = &protocol.FileTransferMode{Dir: "/tmp"}
	if res := h.login(lr); res.Error != constants.MsgNoFilePermission {
		t.Fatalf("expected %q, got %q", constants.MsgNoFilePermission, res.Error)
	}
	h.drain()

	select {
	case <-h.done:
	case <-time.After(4 * time.Second):
		t.Fatalf("socket still open after terminal login rejection")
	}
}

func TestLoginNoPasswordConfigured(t *testing.T) {
	h := newHarness(t, harnessOpts{
		mutate: func(cfg *config.Config) { cfg.TemporaryEnabled = false },
	})

	if res := h.login(h.loginRequest("anything")); res.Error != constants.MsgNotAllowed {
		t.Fatalf("expected %q, got %q", constants.MsgNotAllowed, res.Error)
	}
	h.drain()
	select {
	case <-h.done:
	case <-time.After(4 * time.Second):
		t.Fatalf("socket still open after not-allowed rejection")
	}
}

func TestTestDelayEchoesTargetBitrate(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	h.login(h.loginRequest(testTempPwd))

	h.client.Send(&protocol.Message{Misc: &protocol.Misc{
		Option: &protocol.OptionMessage{CustomImageQuality: 80},
	}})

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		msg, err := h.client.Next()
		if err != nil {
			t.Fatalf("client read: %v", err)
		}
		if msg == nil || msg.TestDelay == nil || msg.TestDelay.FromClient {
			continue
		}
		if msg.TestDelay.TargetBitrate == 800 {
			return
		}
		// answer the probe so the next one carries the updated estimate
		h.client.Send(&protocol.Message{TestDelay: msg.TestDelay})
	}
	t.Fatalf("latency probe never carried the custom bitrate")
}

func TestChatReachesCMAndMarksUnanswered(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	h.login(h.loginRequest(testTempPwd))

	h.client.Send(&protocol.Message{Misc: &protocol.Misc{
		ChatMessage: &protocol.ChatMessage{Text: "hello?"},
	}})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.conn.chatUnanswered {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("chat did not mark the connection unanswered")
}
