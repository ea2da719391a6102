package conn

import (
	"time"

	"rdeskd/internal/constants"
	"rdeskd/internal/ipc"
	"rdeskd/internal/protocol"
)

// onMessage dispatches one inbound peer message. Unknown or out-of-state
// variants are ignored rather than fatal.
func (c *Connection) onMessage(msg *protocol.Message) {
	switch {
	case msg.LoginRequest != nil:
		c.handleLogin(msg.LoginRequest)
		return
	case msg.TestDelay != nil:
		c.handleTestDelay(msg.TestDelay)
		return
	case msg.SwitchSidesResponse != nil:
		c.handleSwitchSidesResponse(msg.SwitchSidesResponse)
		return
	}

	if !c.authorized {
		return
	}

	switch {
	case msg.MouseEvent != nil:
		if c.peerKeyboardEnabled() {
			c.lastActive = time.Now()
			c.deps.Input.Mouse(msg.MouseEvent)
		}
	case msg.KeyEvent != nil:
		if c.peerKeyboardEnabled() {
			c.lastActive = time.Now()
			c.deps.Input.Key(msg.KeyEvent)
		}
	case msg.PointerEvent != nil:
		if c.peerKeyboardEnabled() {
			c.lastActive = time.Now()
			c.deps.Input.Pointer(msg.PointerEvent)
		}
	case msg.AudioFrame != nil:
		if c.voiceCallActive && c.audioEnabled() && c.deps.AudioSink != nil {
			c.deps.AudioSink(msg.AudioFrame)
		}
	case msg.Clipboard != nil:
		if c.clipboardEnabled() && c.deps.ApplyClipboard != nil {
			c.deps.ApplyClipboard(msg.Clipboard)
		}
	case msg.FileAction != nil:
		c.handleFileAction(msg.FileAction)
	case msg.FileResponse != nil:
		c.handleFileResponse(msg.FileResponse)
	case msg.VoiceCallRequest != nil:
		c.handleVoiceCallRequest(msg.VoiceCallRequest)
	case msg.VoiceCallResponse != nil:
		// only the controlled side answers calls
		c.logEvent("unexpected voice call response, possible voice call attack")
	case msg.Misc != nil:
		c.handleMisc(msg.Misc)
	}
}

func (c *Connection) handleTestDelay(td *protocol.TestDelay) {
	if td.FromClient {
		// peer-originated probe, echo it straight back
		c.writePeer(&protocol.Message{TestDelay: td}, false)
		return
	}
	if c.delayEcho != 0 && td.Time == c.delayEcho {
		elapsed := time.Now().UnixMilli() - td.Time
		if elapsed > 0 {
			c.netDelay = uint32(elapsed)
		}
		c.delayEcho = 0
	}
}

func (c *Connection) handleMisc(m *protocol.Misc) {
	switch {
	case m.ChatMessage != nil:
		c.chatUnanswered = true
		c.lastActive = time.Now()
		c.SendToCM(&ipc.Data{Type: ipc.TypeChatMessage, ChatMessage: m.ChatMessage.Text})

	case m.Option != nil:
		c.updateOptions(m.Option)

	case m.CloseReason != nil:
		c.deps.Sessions.Delete(c.peerID)
		c.closePeer(constants.ReasonPeerClose, true, false)

	case m.RestartRemoteDevice != nil && *m.RestartRemoteDevice:
		if c.perms.restart && c.deps.Restart != nil {
			c.logEvent("restart requested by peer")
			c.deps.Restart()
		}

	case m.ElevationRequest != nil:
		c.handleElevationRequest(m.ElevationRequest)

	case m.SwitchSidesRequest != nil:
		// the controlling side answers these; ignore on this side

	case m.RefreshVideo != nil, m.VideoReceived != nil,
		m.AudioFormat != nil, m.FullSpeedFps != nil, m.AutoAdjustFps != nil,
		m.ClientRecordStatus != nil:
		// video/audio pipeline knobs, consumed by the services
	}
}

// handleSwitchSidesResponse authorizes a connect-back that presents a valid
// switch-sides token, skipping password validation.
func (c *Connection) handleSwitchSidesResponse(res *protocol.SwitchSidesResponse) {
	if c.authorized || res.LoginRequest == nil {
		return
	}
	lr := res.LoginRequest
	c.peerID = lr.MyID
	c.peerName = lr.MyName
	c.peerVersion = lr.Version
	c.sessionID = lr.SessionID

	uuid, ok := c.deps.Registry.TakeSwitchSidesUUID(lr.MyID)
	if !ok || uuid != res.UUID {
		c.logEvent("switch sides token mismatch")
		c.sendLoginError(constants.MsgOffline)
		return
	}
	c.loginOpts = lr.Option
	c.sendLogonResponse()
}

// onCM dispatches one message from the connection manager.
func (c *Connection) onCM(d *ipc.Data) {
	switch d.Type {
	case ipc.TypeAuthorize:
		c.authorizeFromCM()

	case ipc.TypeClose:
		c.closeWith(constants.ReasonPeerClose, true)

	case ipc.TypeChatMessage:
		c.chatUnanswered = false
		c.Send(protocol.NewMisc(&protocol.Misc{
			ChatMessage: &protocol.ChatMessage{Text: d.ChatMessage},
		}))

	case ipc.TypeSwitchPermission:
		if d.SwitchPermission != nil {
			c.switchPermission(d.SwitchPermission.Name, d.SwitchPermission.Enabled)
		}

	case ipc.TypeFS:
		if d.FS != nil {
			c.handleFSFromCM(d.FS)
		}

	case ipc.TypeRawMessage:
		if len(d.RawMessage) > 0 {
			c.stream.SendRaw(d.RawMessage)
		}

	case ipc.TypeStartVoiceCall:
		c.answerVoiceCall(true)

	case ipc.TypeVoiceCallResponse:
		c.answerVoiceCall(d.VoiceCallAccepted)

	case ipc.TypeCloseVoiceCall:
		c.stopVoiceCall()
		c.Send(&protocol.Message{VoiceCallResponse: &protocol.VoiceCallResponse{
			ReqTimestamp: time.Now().UnixMilli(),
			Accepted:     false,
		}})

	case ipc.TypeSwitchSides:
		c.RequestSwitchSides()

	case ipc.TypeTest:
		c.SendToCM(&ipc.Data{Type: ipc.TypeTest})
	}
}

// switchPermission applies an operator-side capability flip and tells the
// peer about it.
func (c *Connection) switchPermission(name string, enabled bool) {
	switch name {
	case "keyboard":
		c.perms.keyboard = enabled
	case "clipboard":
		c.perms.clipboard = enabled
	case "audio":
		c.perms.audio = enabled
	case "file":
		c.perms.file = enabled
	case "restart":
		c.perms.restart = enabled
	case "recording":
		c.perms.recording = enabled
	default:
		return
	}
	c.refreshSubscriptions()
	c.sendPermissionInfo(name, enabled)
}
