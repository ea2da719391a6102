package conn

import (
	"rdeskd/internal/protocol"
)

// updateOptions applies one peer option message. Tri-state fields that are
// not set leave the current value untouched.
func (c *Connection) updateOptions(o *protocol.OptionMessage) {
	if o.ShowRemoteCursor.Set() {
		c.opts.showRemoteCursor = o.ShowRemoteCursor == protocol.TriYes
	}
	if o.DisableKeyboard.Set() {
		c.opts.disableKeyboard = o.DisableKeyboard == protocol.TriYes
	}
	if o.DisableClipboard.Set() {
		c.opts.disableClipboard = o.DisableClipboard == protocol.TriYes
	}
	if o.DisableAudio.Set() {
		c.opts.disableAudio = o.DisableAudio == protocol.TriYes
	}
	if o.LockAfterSessionEnd.Set() {
		c.opts.lockAfterSessionEnd = o.LockAfterSessionEnd == protocol.TriYes
	}
	if o.EnableFileTransfer.Set() {
		c.opts.enableFileTransfer = o.EnableFileTransfer == protocol.TriYes
	}
	if o.ImageQuality != 0 {
		c.opts.imageQuality = o.ImageQuality
	}
	if o.CustomImageQuality != 0 {
		c.opts.customImageQuality = o.CustomImageQuality
	}
	if o.CustomFPS != 0 {
		c.opts.customFPS = o.CustomFPS
	}
	if o.SupportedDecoding != "" {
		c.opts.supportedDecoding = o.SupportedDecoding
	}

	if c.authorized {
		c.refreshSubscriptions()
	}

	if o.BlockInput.Set() {
		c.handleBlockInput(o.BlockInput == protocol.TriYes)
	}
	if o.PrivacyMode.Set() {
		c.handlePrivacyMode(o.PrivacyMode == protocol.TriYes)
	}
}

// Quality preset baselines in kbit/s; the custom slider overrides them.
const (
	bitrateLow      = 300
	bitrateBalanced = 1000
	bitrateBest     = 2000
)

// targetBitrate is the QoS estimate echoed on the latency probe. A custom
// quality value is a direct percentage of the balanced baseline; otherwise
// the preset decides.
func (c *Connection) targetBitrate() uint32 {
	if q := c.opts.customImageQuality; q > 0 {
		return uint32(bitrateBalanced * q / 100)
	}
	switch c.opts.imageQuality {
	case protocol.ImageQualityLow:
		return bitrateLow
	case protocol.ImageQualityBest:
		return bitrateBest
	case protocol.ImageQualityBalanced:
		return bitrateBalanced
	}
	return 0
}

// handleBlockInput toggles local input blocking. Failure goes back to the
// peer so its UI does not show a blocked state that never took effect.
func (c *Connection) handleBlockInput(on bool) {
	if !c.perms.keyboard {
		return
	}
	if c.deps.Input.SetBlockInput(on) {
		return
	}
	state := protocol.BlkOffFailed
	if on {
		state = protocol.BlkOnFailed
	}
	c.Send(protocol.NewMisc(&protocol.Misc{
		BackNotification: &protocol.BackNotification{BlockInputState: state},
	}))
}
