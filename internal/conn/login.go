package conn

import (
	"net"
	"strings"
	"time"

	"rdeskd/internal/audit"
	"rdeskd/internal/auth"
	"rdeskd/internal/config"
	"rdeskd/internal/constants"
	"rdeskd/internal/ipc"
	"rdeskd/internal/protocol"
	"rdeskd/internal/session"
	"rdeskd/internal/sysinfo"
)

// ipAllowed checks the source address against the whitelist. Entries are
// single addresses or CIDR blocks; an empty list allows everyone.
func ipAllowed(ip string, whitelist []string) bool {
	if len(whitelist) == 0 {
		return true
	}
	addr := net.ParseIP(ip)
	for _, entry := range whitelist {
		if entry == "0.0.0.0" || entry == ip {
			return true
		}
		if strings.Contains(entry, "/") && addr != nil {
			if _, cidr, err := net.ParseCIDR(entry); err == nil && cidr.Contains(addr) {
				return true
			}
		}
	}
	return false
}

func (c *Connection) sendLoginError(errMsg string) {
	c.writePeer(&protocol.Message{LoginResponse: &protocol.LoginResponse{Error: errMsg}}, false)
}

// rejectLogin sends a terminal login error and arms the grace-period close.
// Retryable errors (wrong password, pending approval) keep the socket open;
// these do not.
func (c *Connection) rejectLogin(errMsg string) {
	c.sendLoginError(errMsg)
	c.rejectAt = time.Now()
}

func (c *Connection) handleLogin(lr *protocol.LoginRequest) {
	if c.authorized {
		return
	}

	c.peerID = lr.MyID
	c.peerName = lr.MyName
	c.peerVersion = lr.Version
	c.sessionID = lr.SessionID
	c.fileTransfer = lr.FileTransfer
	c.portForward = lr.PortForward
	c.loginOpts = lr.Option

	cfg := c.deps.Cfg

	if !ipAllowed(c.ip, cfg.Whitelist) {
		c.deps.Audit.PostAlarm(audit.AlarmIPWhitelist, c.peerID, c.ip)
		c.logEvent("rejected by whitelist: " + c.ip)
		c.rejectLogin(constants.MsgIPBlocked)
		return
	}
	if lr.Username != cfg.ID {
		c.rejectLogin(constants.MsgOffline)
		return
	}
	if c.fileTransfer != nil && !c.perms.file {
		c.rejectLogin(constants.MsgNoFilePermission)
		return
	}
	if c.portForward != nil && !cfg.Permission(cfg.EnableTunnel) {
		c.rejectLogin(constants.MsgNoTunnelPermission)
		return
	}
	if owner := c.deps.Registry.PrivacyOwner(); owner != 0 && owner != c.id {
		c.rejectLogin(constants.MsgPrivacyModeOn)
		return
	}

	switch mode := cfg.ApproveMode(); {
	case mode == config.ApproveClick,
		mode == config.ApproveBoth && !cfg.HasValidPassword():
		c.tryStartCM(false)
		if len(lr.PasswordHash) > 0 {
			c.sendLoginError(constants.MsgNoPasswordAccess)
		}
		return
	case mode == config.ApprovePassword && !cfg.HasValidPassword():
		// nothing could ever validate; this is a local misconfiguration,
		// not a password attempt
		c.rejectLogin(constants.MsgNotAllowed)
		return
	}

	if len(lr.PasswordHash) == 0 {
		// no password submitted; wait for the operator to approve via CM
		c.tryStartCM(false)
		return
	}

	switch c.deps.Throttle.Check(c.ip) {
	case auth.ThrottleLockout:
		c.deps.Audit.PostAlarm(audit.AlarmExceedThirtyAttempts, c.peerID, c.ip)
		c.sendLoginError(constants.MsgTooManyAttempts)
		return
	case auth.ThrottleRateLimited:
		c.deps.Audit.PostAlarm(audit.AlarmSixAttemptsWithinOneMinute, c.peerID, c.ip)
		c.sendLoginError(constants.MsgTryOneMinuteLater)
		return
	}

	desktopReady := c.deps.DesktopReady == nil || c.deps.DesktopReady()

	if !c.validatePassword(lr.PasswordHash) {
		// a not-ready desktop does not exempt the attempt from counting
		c.deps.Throttle.RecordFailure(c.ip)
		if !desktopReady {
			c.sendLoginError(constants.MsgDesktopNotReady + ", " + constants.MsgPasswordWrong)
		} else {
			c.sendLoginError(constants.MsgPasswordWrong)
		}
		return
	}

	c.deps.Throttle.RecordSuccess(c.ip)
	if !desktopReady {
		c.sendLoginError(constants.MsgDesktopNotReady)
		return
	}
	c.sendLogonResponse()
}

// validatePassword accepts a recent-session resumption, the temporary
// password, or the permanent password, in that order.
func (c *Connection) validatePassword(submitted []byte) bool {
	cfg := c.deps.Cfg
	salt, challenge := c.hash.Salt, c.hash.Challenge

	if rec, ok := c.deps.Sessions.Get(c.peerID); ok &&
		rec.Matches(c.peerName, c.sessionID) &&
		auth.ValidatePassword(rec.RandomPassword, salt, challenge, submitted) {
		c.deps.Sessions.Touch(c.peerID)
		return true
	}

	if cfg.TemporaryEnabled {
		if tmp := cfg.TemporaryPassword(); auth.ValidatePassword(tmp, salt, challenge, submitted) {
			c.deps.Sessions.Save(c.peerID, &session.Session{
				Name:           c.peerName,
				SessionID:      c.sessionID,
				RandomPassword: tmp,
				LastActive:     time.Now(),
			})
			return true
		}
	}

	if cfg.PermanentEnabled &&
		auth.ValidatePassword(cfg.PermanentPassword(), salt, challenge, submitted) {
		return true
	}
	return false
}

// tryStartCM announces the connection to the manager. Called once with
// authorized=false when approval is pending and again on authorization.
func (c *Connection) tryStartCM(authorized bool) {
	c.SendToCM(&ipc.Data{Type: ipc.TypeLogin, Login: &ipc.Login{
		ID:             c.id,
		IsFileTransfer: c.fileTransfer != nil,
		PortForward:    c.portForwardTarget(),
		PeerID:         c.peerID,
		Name:           c.peerName,
		Authorized:     authorized,
		Keyboard:       c.perms.keyboard,
		Clipboard:      c.perms.clipboard,
		Audio:          c.perms.audio,
		File:           c.perms.file,
		Restart:        c.perms.restart,
		Recording:      c.perms.recording,
	}})
}

func (c *Connection) portForwardTarget() string {
	if c.portForward == nil {
		return ""
	}
	if c.portForward.Port == 0 || strings.EqualFold(c.portForward.Host, "rdp") {
		return "RDP"
	}
	return c.portForward.Host
}

// sendLogonResponse flips the connection to Authorized and tells everyone.
func (c *Connection) sendLogonResponse() {
	if c.authorized {
		return
	}
	c.authorized = true
	c.state = StateAuthorized
	c.lastActive = time.Now()

	c.deps.Audit.PostConn("new", c.id, c.peerID, c.peerName, c.ip, c.sessionID)

	pi := &protocol.PeerInfo{
		Username:             sysinfo.Username(),
		Hostname:             sysinfo.Hostname(),
		Platform:             sysinfo.Platform(),
		Version:              constants.Version,
		PrivacyModeSupported: c.deps.CaptureProbe != nil,
	}
	if c.deps.Displays != nil {
		pi.Displays = c.deps.Displays()
	}
	c.writePeer(&protocol.Message{LoginResponse: &protocol.LoginResponse{PeerInfo: pi}}, false)

	if c.portForward != nil {
		c.logEvent("authorized for port forward")
		c.tryStartCM(true)
		return
	}

	// the login-request option block applies only now that the peer is in
	if o := c.loginOpts; o != nil {
		c.loginOpts = nil
		c.updateOptions(o)
	}

	if c.fileTransfer != nil {
		c.deps.Registry.AddConnection(c, []string{
			constants.ServiceVideo,
			constants.ServiceCursor,
			constants.ServiceCursorPos,
			constants.ServiceClipboard,
			constants.ServiceAudio,
		})
		c.tryStartCM(true)
		c.sendDirListing(0, c.fileTransfer.Dir, c.fileTransfer.ShowHidden)
		c.logEvent("authorized for file transfer")
		return
	}

	c.deps.Registry.AddConnection(c, c.noPermServices())
	c.tryStartCM(true)
	c.logEvent("authorized")
}

// authorizeFromCM is the operator-click approval path.
func (c *Connection) authorizeFromCM() {
	if c.authorized {
		return
	}
	c.sendLogonResponse()
}
