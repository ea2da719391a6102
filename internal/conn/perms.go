package conn

import (
	"rdeskd/internal/config"
	"rdeskd/internal/constants"
	"rdeskd/internal/protocol"
)

// perms is the local operator side of the capability set. Flags here come
// from local policy and CM permission switches; the peer cannot raise them.
type perms struct {
	keyboard  bool
	clipboard bool
	audio     bool
	file      bool
	restart   bool
	recording bool
}

func permsFromConfig(cfg *config.Config) perms {
	return perms{
		keyboard:  cfg.Permission(cfg.EnableKeyboard),
		clipboard: cfg.Permission(cfg.EnableClipboard),
		audio:     cfg.Permission(cfg.EnableAudio),
		file:      cfg.Permission(cfg.EnableFile),
		restart:   cfg.Permission(cfg.EnableRestart),
		recording: cfg.Permission(cfg.EnableRecording),
	}
}

// options is the peer side of the capability set, lowered mid-session via
// OptionMessage. disable* flags only ever restrict what perms allows.
type options struct {
	showRemoteCursor    bool
	disableKeyboard     bool
	disableClipboard    bool
	disableAudio        bool
	lockAfterSessionEnd bool
	enableFileTransfer  bool

	// video pipeline knobs, consumed by the QoS estimate
	imageQuality       int
	customImageQuality int
	customFPS          int
	supportedDecoding  string
}

// Effective capability predicates. Each is the conjunction of the local
// grant and the peer not having opted out.

func (c *Connection) peerKeyboardEnabled() bool {
	return c.perms.keyboard && !c.opts.disableKeyboard
}

func (c *Connection) clipboardEnabled() bool {
	return c.perms.clipboard && !c.opts.disableClipboard
}

func (c *Connection) audioEnabled() bool {
	return c.perms.audio && !c.opts.disableAudio
}

func (c *Connection) fileEnabled() bool {
	return c.perms.file && c.opts.enableFileTransfer
}

// refreshSubscriptions projects the capability predicates onto the service
// registry. The registry suppresses pushes when nothing changed.
func (c *Connection) refreshSubscriptions() {
	kb := c.peerKeyboardEnabled()
	c.deps.Registry.Subscribe(constants.ServiceCursor, c, kb || c.opts.showRemoteCursor)
	c.deps.Registry.Subscribe(constants.ServiceCursorPos, c, c.opts.showRemoteCursor)
	c.deps.Registry.Subscribe(constants.ServiceClipboard, c, c.clipboardEnabled() && kb)
	c.deps.Registry.Subscribe(constants.ServiceAudio, c, c.audioEnabled())
}

// noPermServices lists services this connection must not start subscribed to.
func (c *Connection) noPermServices() []string {
	var out []string
	kb := c.peerKeyboardEnabled()
	if !kb && !c.opts.showRemoteCursor {
		out = append(out, constants.ServiceCursor)
	}
	if !c.opts.showRemoteCursor {
		out = append(out, constants.ServiceCursorPos)
	}
	if !(c.clipboardEnabled() && kb) {
		out = append(out, constants.ServiceClipboard)
	}
	if !c.audioEnabled() {
		out = append(out, constants.ServiceAudio)
	}
	return out
}

// sendPermissionInfo tells the peer about one capability flip.
func (c *Connection) sendPermissionInfo(name string, enabled bool) {
	c.Send(protocol.NewMisc(&protocol.Misc{
		PermissionInfo: &protocol.PermissionInfo{Permission: name, Enabled: enabled},
	}))
}
