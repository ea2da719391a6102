package protocol

// Message is the tagged union carried on the peer stream. Exactly one field
// is non-nil; dispatch is an exhaustive switch with an ignore arm for
// variants this side does not handle.
type Message struct {
	Hash              *Hash              `json:"hash,omitempty"`
	LoginRequest      *LoginRequest      `json:"login_request,omitempty"`
	LoginResponse     *LoginResponse     `json:"login_response,omitempty"`
	TestDelay         *TestDelay         `json:"test_delay,omitempty"`
	VideoFrame        *VideoFrame        `json:"video_frame,omitempty"`
	AudioFrame        *AudioFrame        `json:"audio_frame,omitempty"`
	MouseEvent        *MouseEvent        `json:"mouse_event,omitempty"`
	KeyEvent          *KeyEvent          `json:"key_event,omitempty"`
	PointerEvent      *PointerEvent      `json:"pointer_event,omitempty"`
	Clipboard         *Clipboard         `json:"clipboard,omitempty"`
	FileAction        *FileAction        `json:"file_action,omitempty"`
	FileResponse      *FileResponse      `json:"file_response,omitempty"`
	Misc              *Misc              `json:"misc,omitempty"`
	VoiceCallRequest  *VoiceCallRequest  `json:"voice_call_request,omitempty"`
	VoiceCallResponse *VoiceCallResponse `json:"voice_call_response,omitempty"`
	SwitchSidesResponse *SwitchSidesResponse `json:"switch_sides_response,omitempty"`
}

// Hash carries the per-connection salt/challenge pair sent before any
// authentication attempt.
type Hash struct {
	Salt      string `json:"salt"`
	Challenge string `json:"challenge"`
}

type LoginRequest struct {
	Username         string         `json:"username"` // target id the peer dialed
	MyID             string         `json:"my_id"`
	MyName           string         `json:"my_name"`
	SessionID        uint64         `json:"session_id"`
	PasswordHash     []byte         `json:"password,omitempty"`
	Version          string         `json:"version,omitempty"`
	VideoAckRequired bool           `json:"video_ack_required,omitempty"`
	Option           *OptionMessage `json:"option,omitempty"`

	// Mode-specific payloads; at most one is set.
	FileTransfer *FileTransferMode `json:"file_transfer,omitempty"`
	PortForward  *PortForwardMode  `json:"port_forward,omitempty"`
}

type FileTransferMode struct {
	Dir        string `json:"dir"`
	ShowHidden bool   `json:"show_hidden"`
}

type PortForwardMode struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type LoginResponse struct {
	Error    string    `json:"error,omitempty"`
	PeerInfo *PeerInfo `json:"peer_info,omitempty"`
}

type PeerInfo struct {
	Username         string   `json:"username"`
	Hostname         string   `json:"hostname"`
	Platform         string   `json:"platform"`
	Version          string   `json:"version"`
	SasEnabled       bool     `json:"sas_enabled,omitempty"`
	PrivacyModeSupported bool `json:"privacy_mode_supported,omitempty"`
	Displays         []DisplayInfo `json:"displays,omitempty"`
	CurrentDisplay   int      `json:"current_display,omitempty"`
}

type DisplayInfo struct {
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Name   string `json:"name,omitempty"`
}

// TestDelay is the periodic latency probe. The server stamps Time; the peer
// echoes it back with FromClient cleared.
type TestDelay struct {
	Time          int64  `json:"time"`
	FromClient    bool   `json:"from_client,omitempty"`
	LastDelay     uint32 `json:"last_delay,omitempty"`
	TargetBitrate uint32 `json:"target_bitrate,omitempty"`
}

type VideoFrame struct {
	Display   int    `json:"display"`
	Data      []byte `json:"data"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

type AudioFrame struct {
	Data      []byte `json:"data"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

type MouseEvent struct {
	Mask int32 `json:"mask"`
	X    int32 `json:"x"`
	Y    int32 `json:"y"`
}

type KeyEvent struct {
	Down      bool   `json:"down,omitempty"`
	Press     bool   `json:"press,omitempty"`
	Chr       uint32 `json:"chr,omitempty"`
	Unicode   uint32 `json:"unicode,omitempty"`
	Seq       string `json:"seq,omitempty"`
	Mode      string `json:"mode,omitempty"` // legacy, map, translate
	Modifiers []uint32 `json:"modifiers,omitempty"`
}

// Control key codes carried in KeyEvent.Chr when Mode is "legacy".
const (
	ControlKeyAlt      uint32 = 1
	ControlKeyControl  uint32 = 2
	ControlKeyShift    uint32 = 3
	ControlKeyMeta     uint32 = 4
	ControlKeyRAlt     uint32 = 5
	ControlKeyRControl uint32 = 6
	ControlKeyRShift   uint32 = 7
	ControlKeyRMeta    uint32 = 8
)

// IsModifierKey reports whether chr names a modifier control key.
func IsModifierKey(chr uint32) bool {
	return chr >= ControlKeyAlt && chr <= ControlKeyRMeta
}

type PointerEvent struct {
	Kind string `json:"kind"` // touch pan start/update/end
	X    int32  `json:"x"`
	Y    int32  `json:"y"`
}

type Clipboard struct {
	Compress bool   `json:"compress,omitempty"`
	Content  []byte `json:"content"`
}

// FileAction is the peer-driven file sub-union.
type FileAction struct {
	ReadDir     *ReadDirRequest  `json:"read_dir,omitempty"`
	AllFiles    *AllFilesRequest `json:"all_files,omitempty"`
	Send        *FileSendRequest `json:"send,omitempty"`
	Receive     *FileReceiveRequest `json:"receive,omitempty"`
	RemoveDir   *FileRemoveDir   `json:"remove_dir,omitempty"`
	RemoveFile  *FileRemoveFile  `json:"remove_file,omitempty"`
	Create      *FileDirCreate   `json:"create,omitempty"`
	Cancel      *FileTransferCancel `json:"cancel,omitempty"`
	SendConfirm *FileSendConfirm `json:"send_confirm,omitempty"`
}

type ReadDirRequest struct {
	Path          string `json:"path"`
	IncludeHidden bool   `json:"include_hidden"`
}

type AllFilesRequest struct {
	ID            int32  `json:"id"`
	Path          string `json:"path"`
	IncludeHidden bool   `json:"include_hidden"`
}

type FileSendRequest struct {
	ID            int32  `json:"id"`
	Path          string `json:"path"`
	IncludeHidden bool   `json:"include_hidden"`
	FileNum       int32  `json:"file_num"`
}

type FileReceiveRequest struct {
	ID        int32       `json:"id"`
	Path      string      `json:"path"`
	Files     []FileEntry `json:"files"`
	FileNum   int32       `json:"file_num"`
	TotalSize uint64      `json:"total_size"`
}

type FileRemoveDir struct {
	ID        int32  `json:"id"`
	Path      string `json:"path"`
	Recursive bool   `json:"recursive"`
}

type FileRemoveFile struct {
	ID      int32  `json:"id"`
	Path    string `json:"path"`
	FileNum int32  `json:"file_num"`
}

type FileDirCreate struct {
	ID   int32  `json:"id"`
	Path string `json:"path"`
}

type FileTransferCancel struct {
	ID int32 `json:"id"`
}

type FileSendConfirm struct {
	ID          int32 `json:"id"`
	FileNum     int32 `json:"file_num"`
	Skip        bool  `json:"skip,omitempty"`
	OffsetBlock uint32 `json:"offset_blk,omitempty"`
}

// FileResponse flows in both directions: listings and blocks out, write
// results in.
type FileResponse struct {
	Dir    *FileDirectory  `json:"dir,omitempty"`
	Block  *FileBlock      `json:"block,omitempty"`
	Done   *FileDone       `json:"done,omitempty"`
	Digest *FileDigest     `json:"digest,omitempty"`
	Error  *FileTransferError `json:"error,omitempty"`
}

type FileDirectory struct {
	ID    int32       `json:"id"`
	Path  string      `json:"path"`
	Files []FileEntry `json:"files"`
}

type FileEntry struct {
	Name         string `json:"name"`
	IsDir        bool   `json:"is_dir,omitempty"`
	Size         uint64 `json:"size"`
	ModifiedTime uint64 `json:"modified_time,omitempty"`
}

type FileBlock struct {
	ID         int32  `json:"id"`
	FileNum    int32  `json:"file_num"`
	Data       []byte `json:"data"`
	Compressed bool   `json:"compressed,omitempty"`
	BlockIndex uint32 `json:"block_index,omitempty"`
}

type FileDone struct {
	ID      int32 `json:"id"`
	FileNum int32 `json:"file_num"`
}

type FileDigest struct {
	ID           int32  `json:"id"`
	FileNum      int32  `json:"file_num"`
	FileSize     uint64 `json:"file_size"`
	LastModified uint64 `json:"last_modified"`
	IsUpload     bool   `json:"is_upload,omitempty"`
}

type FileTransferError struct {
	ID      int32  `json:"id"`
	FileNum int32  `json:"file_num"`
	Error   string `json:"error"`
}

// Misc is the miscellaneous control sub-union.
type Misc struct {
	ChatMessage            *ChatMessage        `json:"chat_message,omitempty"`
	Option                 *OptionMessage      `json:"option,omitempty"`
	PermissionInfo         *PermissionInfo     `json:"permission_info,omitempty"`
	SwitchDisplay          *SwitchDisplay      `json:"switch_display,omitempty"`
	RefreshVideo           *bool               `json:"refresh_video,omitempty"`
	VideoReceived          *bool               `json:"video_received,omitempty"`
	CloseReason            *string             `json:"close_reason,omitempty"`
	RestartRemoteDevice    *bool               `json:"restart_remote_device,omitempty"`
	ElevationRequest       *ElevationRequest   `json:"elevation_request,omitempty"`
	ElevationResponse      *string             `json:"elevation_response,omitempty"`
	AudioFormat            *AudioFormat        `json:"audio_format,omitempty"`
	BackNotification       *BackNotification   `json:"back_notification,omitempty"`
	StopService            *bool               `json:"stop_service,omitempty"`
	SwitchSidesRequest     *SwitchSidesRequest `json:"switch_sides_request,omitempty"`
	SwitchBack             *bool               `json:"switch_back,omitempty"`
	FullSpeedFps           *int32              `json:"full_speed_fps,omitempty"`
	AutoAdjustFps          *int32              `json:"auto_adjust_fps,omitempty"`
	ClientRecordStatus     *bool               `json:"client_record_status,omitempty"`
	PortableServiceRunning *bool               `json:"portable_service_running,omitempty"`
}

type ChatMessage struct {
	Text string `json:"text"`
}

// TriState mirrors the wire BoolOption: absent means "leave unchanged".
type TriState int

const (
	TriNotSet TriState = iota
	TriYes
	TriNo
)

func (t TriState) Set() bool { return t != TriNotSet }

// OptionMessage carries mid-session option toggles from the peer.
// ImageQuality presets carried in OptionMessage; zero means not set.
const (
	ImageQualityLow      = 2
	ImageQualityBalanced = 3
	ImageQualityBest     = 4
)

type OptionMessage struct {
	ImageQuality        int      `json:"image_quality,omitempty"`
	CustomImageQuality  int      `json:"custom_image_quality,omitempty"`
	CustomFPS           int      `json:"custom_fps,omitempty"`
	SupportedDecoding   string   `json:"supported_decoding,omitempty"`
	LockAfterSessionEnd TriState `json:"lock_after_session_end,omitempty"`
	ShowRemoteCursor    TriState `json:"show_remote_cursor,omitempty"`
	DisableAudio        TriState `json:"disable_audio,omitempty"`
	DisableClipboard    TriState `json:"disable_clipboard,omitempty"`
	DisableKeyboard     TriState `json:"disable_keyboard,omitempty"`
	EnableFileTransfer  TriState `json:"enable_file_transfer,omitempty"`
	PrivacyMode         TriState `json:"privacy_mode,omitempty"`
	BlockInput          TriState `json:"block_input,omitempty"`
}

type PermissionInfo struct {
	Permission string `json:"permission"` // keyboard, clipboard, audio, file, restart, recording
	Enabled    bool   `json:"enabled"`
}

type SwitchDisplay struct {
	Display int32 `json:"display"`
	Width   int32 `json:"width,omitempty"`
	Height  int32 `json:"height,omitempty"`
}

type ElevationRequest struct {
	Direct   bool   `json:"direct,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

type AudioFormat struct {
	SampleRate uint32 `json:"sample_rate"`
	Channels   uint32 `json:"channels"`
}

// BackNotification reports privacy-mode / block-input state changes back to
// the peer, with an optional human-readable detail.
type BackNotification struct {
	PrivacyModeState string `json:"privacy_mode_state,omitempty"`
	BlockInputState  string `json:"block_input_state,omitempty"`
	Details          string `json:"details,omitempty"`
}

// Privacy-mode back-notification states.
const (
	PrvOnSucceeded  = "on_succeeded"
	PrvOnFailed     = "on_failed"
	PrvOffSucceeded = "off_succeeded"
	PrvOffByPeer    = "off_by_peer"
	PrvOffFailed    = "off_failed"
	PrvNotSupported = "not_supported"
)

// Block-input back-notification states.
const (
	BlkOnFailed  = "on_failed"
	BlkOffFailed = "off_failed"
)

type SwitchSidesRequest struct {
	UUID string `json:"uuid"`
}

type SwitchSidesResponse struct {
	UUID         string        `json:"uuid"`
	LoginRequest *LoginRequest `json:"lr,omitempty"`
}

type VoiceCallRequest struct {
	ReqTimestamp int64 `json:"req_timestamp"`
	IsConnect    bool  `json:"is_connect"`
}

type VoiceCallResponse struct {
	ReqTimestamp int64 `json:"req_timestamp"`
	Accepted     bool  `json:"accepted"`
}

// NewMisc wraps a Misc payload into a Message.
func NewMisc(m *Misc) *Message { return &Message{Misc: m} }

// NewCloseReason builds the close-reason message.
func NewCloseReason(reason string) *Message {
	return &Message{Misc: &Misc{CloseReason: &reason}}
}

// NewPrivacyModeState builds a privacy-mode back notification.
func NewPrivacyModeState(state, details string) *Message {
	return &Message{Misc: &Misc{BackNotification: &BackNotification{
		PrivacyModeState: state,
		Details:          details,
	}}}
}

// IsVideoPriority reports whether msg must travel on the video-priority
// queue. SwitchDisplay rides with the frames to keep ordering between them.
func (m *Message) IsVideoPriority() bool {
	if m.VideoFrame != nil {
		return true
	}
	return m.Misc != nil && m.Misc.SwitchDisplay != nil
}
