package audit

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"

	"rdeskd/internal/constants"
)

// AlarmAuditType labels security alarm posts.
type AlarmAuditType int

const (
	AlarmIPWhitelist AlarmAuditType = iota
	AlarmExceedThirtyAttempts
	AlarmSixAttemptsWithinOneMinute
)

// FileAuditType labels file transfer audit posts.
type FileAuditType int

const (
	FileRemoteSend FileAuditType = iota
	FileRemoteReceive
)

// TransferredFile is one entry of a file audit record.
type TransferredFile struct {
	Name string `json:"name"`
	Size uint64 `json:"size"`
}

// Emitter posts audit records to the configured server. Posts are
// fire-and-forget: a slow or dead audit server must never stall a
// connection. An empty base URL disables auditing entirely.
type Emitter struct {
	baseURL    string
	installID  string
	instanceID string
	client     *http.Client
}

func NewEmitter(baseURL, installID string) *Emitter {
	return &Emitter{
		baseURL:    baseURL,
		installID:  installID,
		instanceID: uuid.NewString(),
		client:     &http.Client{Timeout: 15 * time.Second},
	}
}

func (e *Emitter) Enabled() bool { return e != nil && e.baseURL != "" }

// PostConn reports a connection lifecycle event ("new" or "close").
func (e *Emitter) PostConn(action string, connID int, peerID, peerName, ip string, sessionID uint64) {
	if !e.Enabled() {
		return
	}
	e.post("/api/audit/conn", map[string]any{
		"action":     action,
		"id":         e.installID,
		"uuid":       e.instanceID,
		"conn_id":    connID,
		"peer_id":    peerID,
		"peer_name":  peerName,
		"ip":         ip,
		"session_id": sessionID,
	})
}

// PostFile reports a completed or in-flight file transfer. Only the ten
// largest files are named so the record stays small.
func (e *Emitter) PostFile(connID int, peerID string, typ FileAuditType, path string, files []TransferredFile) {
	if !e.Enabled() {
		return
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Size > files[j].Size })
	if len(files) > constants.AuditFileListMax {
		files = files[:constants.AuditFileListMax]
	}
	e.post("/api/audit/file", map[string]any{
		"id":      e.installID,
		"uuid":    e.instanceID,
		"conn_id": connID,
		"peer_id": peerID,
		"type":    int(typ),
		"path":    path,
		"files":   files,
	})
}

// PostAlarm reports a security alarm (whitelist rejection or login-failure
// threshold breach).
func (e *Emitter) PostAlarm(typ AlarmAuditType, peerID, ip string) {
	if !e.Enabled() {
		return
	}
	e.post("/api/audit/alarm", map[string]any{
		"id":      e.installID,
		"uuid":    e.instanceID,
		"typ":     int(typ),
		"peer_id": peerID,
		"ip":      ip,
	})
}

func (e *Emitter) post(path string, body map[string]any) {
	data, err := json.Marshal(body)
	if err != nil {
		log.Printf("audit marshal failed: %v", err)
		return
	}
	url := e.baseURL + path
	go func() {
		resp, err := e.client.Post(url, "application/json", bytes.NewReader(data))
		if err != nil {
			log.Printf("audit post %s failed: %v", path, err)
			return
		}
		resp.Body.Close()
	}()
}
