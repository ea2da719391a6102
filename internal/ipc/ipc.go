package ipc

// Messages exchanged with the connection manager (CM) process. The daemon
// side of the link is one yamux stream per remote connection; the CM side
// fans streams out to its UI.

// FS is the file-system job control subset forwarded to the CM when the peer
// drives a file transfer through the manager UI.
type FS struct {
	Type string `json:"type"` // read_dir, new_write, write_block, write_done, write_error, check_digest, cancel_write, remove_dir, remove_file, create_dir

	ID            int         `json:"id,omitempty"`
	Path          string      `json:"path,omitempty"`
	IncludeHidden bool        `json:"include_hidden,omitempty"`
	FileNum       int         `json:"file_num,omitempty"`
	Files         []FileEntry `json:"files,omitempty"`
	Data          []byte      `json:"data,omitempty"`
	Compressed    bool        `json:"compressed,omitempty"`
	Error         string      `json:"error,omitempty"`
	Recursive     bool        `json:"recursive,omitempty"`
	FileSize      uint64      `json:"file_size,omitempty"`
	LastModified  uint64      `json:"last_modified,omitempty"`
	IsUpload      bool        `json:"is_upload,omitempty"`
	Overwrite     bool        `json:"overwrite,omitempty"`
	TotalSize     uint64      `json:"total_size,omitempty"`
}

// FileEntry mirrors one directory listing row.
type FileEntry struct {
	Name     string `json:"name"`
	IsDir    bool   `json:"is_dir"`
	Size     uint64 `json:"size"`
	Modified uint64 `json:"modified"`
}

// Login is the connection announcement sent to the CM right after the peer
// identifies itself, before authorization completes.
type Login struct {
	ID           int    `json:"id"`
	IsFileTransfer bool `json:"is_file_transfer"`
	PortForward  string `json:"port_forward"`
	PeerID       string `json:"peer_id"`
	Name         string `json:"name"`
	Authorized   bool   `json:"authorized"`
	Keyboard     bool   `json:"keyboard"`
	Clipboard    bool   `json:"clipboard"`
	Audio        bool   `json:"audio"`
	File         bool   `json:"file"`
	Restart      bool   `json:"restart"`
	Recording    bool   `json:"recording"`
	FromSwitch   bool   `json:"from_switch"`
}

// Data is the tagged CM message union. Exactly one field besides Type is
// populated, matching Type.
type Data struct {
	Type string `json:"type"`

	Login             *Login            `json:"login,omitempty"`
	ChatMessage       string            `json:"chat_message,omitempty"`
	SwitchPermission  *SwitchPermission `json:"switch_permission,omitempty"`
	FS                *FS               `json:"fs,omitempty"`
	RawMessage        []byte            `json:"raw_message,omitempty"`
	ClipboardFile     []byte            `json:"clipboard_file,omitempty"`
	PrivacyModeState  *PrivacyModeState `json:"privacy_mode_state,omitempty"`
	VoiceCallTime     int64             `json:"voice_call_time,omitempty"`
	VoiceCallAccepted bool              `json:"voice_call_accepted,omitempty"`
	FileTransferLog   string            `json:"file_transfer_log,omitempty"`
	CloseReason       string            `json:"close_reason,omitempty"`
}

const (
	TypeLogin             = "login"
	TypeClose             = "close"
	TypeDisconnected      = "disconnected"
	TypeChatMessage       = "chat_message"
	TypeSwitchPermission  = "switch_permission"
	TypeFS                = "fs"
	TypeRawMessage        = "raw_message"
	TypeClipboardFile     = "clipboard_file"
	TypePrivacyModeState  = "privacy_mode_state"
	TypeVoiceCallIncoming = "voice_call_incoming"
	TypeStartVoiceCall    = "start_voice_call"
	TypeCloseVoiceCall    = "close_voice_call"
	TypeVoiceCallResponse = "voice_call_response"
	TypeFileTransferLog   = "file_transfer_log"
	TypeSwitchSides       = "switch_sides"
	TypeAuthorize         = "authorize"
	TypeTest              = "test"
)

// SwitchPermission toggles one capability for a live connection from the CM
// side.
type SwitchPermission struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// PrivacyModeState reports a privacy mode transition for the CM UI.
type PrivacyModeState struct {
	ConnID int    `json:"conn_id"`
	State  string `json:"state"`
	ImplKey string `json:"impl_key,omitempty"`
}
