package conn

import (
	"github.com/google/uuid"

	"rdeskd/internal/ipc"
	"rdeskd/internal/protocol"
)

// handleVoiceCallRequest handles the peer opening or hanging up a call. The
// local operator accepts or rejects through the CM; the connection itself
// never auto-accepts.
func (c *Connection) handleVoiceCallRequest(req *protocol.VoiceCallRequest) {
	if !req.IsConnect {
		c.stopVoiceCall()
		c.SendToCM(&ipc.Data{Type: ipc.TypeCloseVoiceCall})
		return
	}
	c.voiceCallTS = req.ReqTimestamp
	if !c.audioEnabled() {
		c.answerVoiceCall(false)
		return
	}
	c.SendToCM(&ipc.Data{Type: ipc.TypeVoiceCallIncoming, VoiceCallTime: req.ReqTimestamp})
}

// answerVoiceCall relays the operator decision. Accepting stashes the
// configured audio input and clears it so capture falls back to the system
// default device; hangup restores the stash.
func (c *Connection) answerVoiceCall(accepted bool) {
	if accepted && !c.voiceCallActive {
		c.voiceCallActive = true
		c.audioInputBefore = c.deps.Cfg.GetAudioInput()
		c.deps.Cfg.SetAudioInput("")
		c.logEvent("voice call started")
	}
	c.Send(&protocol.Message{VoiceCallResponse: &protocol.VoiceCallResponse{
		ReqTimestamp: c.voiceCallTS,
		Accepted:     accepted,
	}})
}

func (c *Connection) stopVoiceCall() {
	if !c.voiceCallActive {
		return
	}
	c.voiceCallActive = false
	c.deps.Cfg.SetAudioInput(c.audioInputBefore)
	c.logEvent("voice call stopped")
}

// handlePrivacyMode turns exclusive privacy mode on or off for this
// connection. The transition only commits after a successful capture probe;
// any failure rolls ownership back.
func (c *Connection) handlePrivacyMode(on bool) {
	if !on {
		if !c.privacyOn {
			return
		}
		c.privacyOn = false
		c.deps.Registry.ReleasePrivacy(c.id)
		c.notifyPrivacy(protocol.PrvOffSucceeded, "")
		return
	}

	if c.privacyOn {
		return
	}
	if !c.perms.keyboard {
		c.notifyPrivacy(protocol.PrvOnFailed, "No permission")
		return
	}
	if c.deps.CaptureProbe == nil {
		c.notifyPrivacy(protocol.PrvNotSupported, "")
		return
	}
	if !c.deps.Registry.AcquirePrivacy(c.id) {
		c.notifyPrivacy(protocol.PrvOnFailed, "Privacy mode is turned on by another connection")
		return
	}
	if err := c.deps.CaptureProbe(0); err != nil {
		c.deps.Registry.ReleasePrivacy(c.id)
		c.notifyPrivacy(protocol.PrvOnFailed, err.Error())
		return
	}
	c.privacyOn = true
	c.notifyPrivacy(protocol.PrvOnSucceeded, "")
}

func (c *Connection) notifyPrivacy(state, details string) {
	c.Send(protocol.NewPrivacyModeState(state, details))
	c.SendToCM(&ipc.Data{Type: ipc.TypePrivacyModeState, PrivacyModeState: &ipc.PrivacyModeState{
		ConnID: c.id,
		State:  state,
	}})
}

// handleElevationRequest runs the privilege elevation flow on a permitted
// peer request. The response carries the error text, empty meaning started.
func (c *Connection) handleElevationRequest(req *protocol.ElevationRequest) {
	var errText string
	switch {
	case !c.peerKeyboardEnabled():
		errText = "No permission"
	case c.deps.Elevate == nil:
		errText = "No need to elevate"
	default:
		if err := c.deps.Elevate(req); err != nil {
			errText = err.Error()
		}
	}
	c.Send(protocol.NewMisc(&protocol.Misc{ElevationResponse: &errText}))
	if errText == "" {
		c.logEvent("elevation started")
	}
}

// pollPortableService pushes elevated-service state changes to the peer.
func (c *Connection) pollPortableService() {
	if c.deps.PortableRunning == nil {
		return
	}
	running := c.deps.PortableRunning()
	if running == c.portableRunning {
		return
	}
	c.portableRunning = running
	c.Send(protocol.NewMisc(&protocol.Misc{PortableServiceRunning: &running}))
}

// RequestSwitchSides asks the peer to take over as the controlled side. The
// token is kept for the connect-back window.
func (c *Connection) RequestSwitchSides() {
	token := uuid.NewString()
	c.deps.Registry.InsertSwitchSidesUUID(c.peerID, token)
	c.Send(protocol.NewMisc(&protocol.Misc{
		SwitchSidesRequest: &protocol.SwitchSidesRequest{UUID: token},
	}))
}
