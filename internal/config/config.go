package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ApproveMode controls how an inbound peer may be authorized.
type ApproveMode int

const (
	ApprovePassword ApproveMode = iota // password only
	ApproveClick                       // operator click only
	ApproveBoth                        // either
)

// Config is the local policy/credential store for one daemon instance.
// It is explicitly constructed and injected; there are no package globals.
type Config struct {
	mu sync.RWMutex

	ID          string // local device id peers dial
	Addr        string
	CMSocket    string
	AuditServer string
	E2EE        bool

	Salt              string
	permanentPassword string
	temporaryPassword string
	TemporaryEnabled  bool
	PermanentEnabled  bool
	approveMode       ApproveMode

	// Access policy. AccessMode overrides the per-capability flags when set
	// to "full" or "view".
	AccessMode      string
	EnableKeyboard  bool
	EnableClipboard bool
	EnableAudio     bool
	EnableFile      bool
	EnableTunnel    bool
	EnableRestart   bool
	EnableRecording bool

	Whitelist           []string
	AutoDisconnect      time.Duration
	AudioInputDevice    string
	LockAfterSessionEnd bool
}

// GetEnv returns the environment variable value or a default if empty.
func GetEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	v := strings.ToLower(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	return v == "true" || v == "1" || v == "y" || v == "yes"
}

// FromEnv builds a Config from the process environment.
func FromEnv() *Config {
	c := &Config{
		ID:          GetEnv("RDESKD_ID", ""),
		Addr:        GetEnv("RDESKD_ADDR", ""),
		CMSocket:    GetEnv("RDESKD_CM_SOCKET", ""),
		AuditServer: GetEnv("RDESKD_AUDIT_SERVER", ""),
		E2EE:        envBool("RDESKD_E2EE", false),

		permanentPassword: GetEnv("RDESKD_PERMANENT_PASSWORD", ""),
		TemporaryEnabled:  envBool("RDESKD_TEMPORARY_PASSWORD", true),

		AccessMode:      GetEnv("RDESKD_ACCESS_MODE", ""),
		EnableKeyboard:  envBool("RDESKD_ENABLE_KEYBOARD", true),
		EnableClipboard: envBool("RDESKD_ENABLE_CLIPBOARD", true),
		EnableAudio:     envBool("RDESKD_ENABLE_AUDIO", true),
		EnableFile:      envBool("RDESKD_ENABLE_FILE_TRANSFER", true),
		EnableTunnel:    envBool("RDESKD_ENABLE_TUNNEL", true),
		EnableRestart:   envBool("RDESKD_ENABLE_RESTART", false),
		EnableRecording: envBool("RDESKD_ENABLE_RECORDING", false),

		AudioInputDevice: GetEnv("RDESKD_AUDIO_INPUT", ""),
	}
	c.PermanentEnabled = c.permanentPassword != ""

	switch strings.ToLower(GetEnv("RDESKD_APPROVE_MODE", "")) {
	case "click":
		c.approveMode = ApproveClick
	case "both":
		c.approveMode = ApproveBoth
	default:
		c.approveMode = ApprovePassword
	}

	if wl := os.Getenv("RDESKD_WHITELIST"); wl != "" {
		for _, e := range strings.Split(wl, ",") {
			if e = strings.TrimSpace(e); e != "" {
				c.Whitelist = append(c.Whitelist, e)
			}
		}
	}

	if min, err := strconv.Atoi(GetEnv("RDESKD_AUTO_DISCONNECT_MIN", "0")); err == nil && min > 0 {
		c.AutoDisconnect = time.Duration(min) * time.Minute
	}

	return c
}

// Permission evaluates a local per-capability policy bit under the access
// mode override.
func (c *Config) Permission(enabled bool) bool {
	switch c.AccessMode {
	case "full":
		return true
	case "view":
		return false
	}
	return enabled
}

func (c *Config) SetApproveMode(m ApproveMode) {
	c.mu.Lock()
	c.approveMode = m
	c.mu.Unlock()
}

func (c *Config) ApproveMode() ApproveMode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.approveMode
}

func (c *Config) PermanentPassword() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.permanentPassword
}

func (c *Config) TemporaryPassword() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.temporaryPassword
}

func (c *Config) SetTemporaryPassword(p string) {
	c.mu.Lock()
	c.temporaryPassword = p
	c.mu.Unlock()
}

// HasValidPassword reports whether any password could authorize a peer.
func (c *Config) HasValidPassword() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return (c.TemporaryEnabled && c.temporaryPassword != "") ||
		(c.PermanentEnabled && c.permanentPassword != "")
}

func (c *Config) GetAudioInput() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.AudioInputDevice
}

func (c *Config) SetAudioInput(device string) {
	c.mu.Lock()
	c.AudioInputDevice = device
	c.mu.Unlock()
}
