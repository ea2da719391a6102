package constants

import "time"

const AppName = "rdeskd"

const Version = "1.4.0"

// Network defaults
const (
	DefaultAddr      = ":21118"
	MaxAcceptedConns = 64
	WSBufferSize     = 131072 // 128KB WebSocket buffer
	MaxFrameSize     = 64 * 1024 * 1024
)

// Wire timing
const (
	SendTimeoutVideo   = 12 * time.Second
	SendTimeoutOther   = 10 * SendTimeoutVideo
	PeerSilenceTimeout = 30 * time.Second
	TestDelayInterval  = time.Second
	HousekeepInterval  = time.Second
	FileTimerIdle      = 30 * time.Second
	FileTimerActive    = time.Millisecond
	ForwardIdleTimeout = time.Hour
	ForwardDialTimeout = 3 * time.Second
)

// Authentication
const (
	ChallengeLength        = 6
	SessionStaleAfter      = 30 * time.Second
	MaxTotalLoginFailures  = 30
	MaxLoginFailuresPerMin = 6
	BlockInputReplyTimeout = 3 * time.Second
	CaptureProbeTimeout    = 5 * time.Second
	LoginRejectGrace       = time.Second
)

// File transfer
const (
	FileBlockSize       = 128 * 1024
	AuditFileListMax    = 10
	OverwriteMinVersion = "1.1.10"
)

// Session cache / Redis
const (
	RedisKeyPrefix  = "rdeskd:session:"
	CleanupInterval = 30 * time.Second
)

// Peer-visible service names
const (
	ServiceVideo     = "video"
	ServiceCursor    = "cursor"
	ServiceCursorPos = "cursorpos"
	ServiceClipboard = "clipboard"
	ServiceAudio     = "audio"
)

// Close reasons surfaced to the peer. Server-initiated reasons are sent with
// the no-retry tag so the peer does not reconnect automatically.
const (
	ReasonPeerClose   = "Closed manually by the peer"
	ReasonWebConsole  = "Closed manually by web console"
	ReasonInactivity  = "Connection failed due to inactivity"
	ReasonTimeout     = "Timeout"
	ReasonResetByPeer = "Reset by the peer"
)

// Login error strings
const (
	MsgPasswordWrong      = "Wrong Password"
	MsgTooManyAttempts    = "Too many wrong password attempts"
	MsgTryOneMinuteLater  = "Please try 1 minute later"
	MsgIPBlocked          = "Your ip is blocked by the peer"
	MsgOffline            = "Offline"
	MsgNoPasswordAccess   = "No Password Access"
	MsgNotAllowed         = "Connection not allowed"
	MsgNoFilePermission   = "No permission of file transfer"
	MsgNoTunnelPermission = "No permission of IP tunneling"
	MsgPrivacyModeOn      = "Someone turns on privacy mode, exit"
	MsgDesktopNotReady    = "Desktop session not ready"
)
