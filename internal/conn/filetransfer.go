package conn

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"rdeskd/internal/audit"
	"rdeskd/internal/constants"
	"rdeskd/internal/ipc"
	"rdeskd/internal/protocol"
)

type transferFile struct {
	relName string
	full    string
	size    uint64
	modTime uint64
}

// TransferJob streams local files to the peer, one block per pacing tick.
// The job idles between the digest announcement and the peer's confirm.
type TransferJob struct {
	ID         int32
	Path       string
	files      []transferFile
	fileNum    int32
	f          *os.File
	blockIndex uint32
	streaming  bool
	finished   bool

	transferred []audit.TransferredFile
}

// writeJob receives peer uploads into a destination directory.
type writeJob struct {
	ID      int32
	Path    string
	files   []protocol.FileEntry
	fileNum int32
	f       *os.File

	transferred []audit.TransferredFile
}

func listDir(path string, includeHidden bool) ([]protocol.FileEntry, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var out []protocol.FileEntry
	for _, e := range entries {
		name := e.Name()
		if !includeHidden && len(name) > 0 && name[0] == '.' {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		fe := protocol.FileEntry{
			Name:  name,
			IsDir: e.IsDir(),
		}
		if !e.IsDir() {
			fe.Size = uint64(info.Size())
		}
		fe.ModifiedTime = uint64(info.ModTime().Unix())
		out = append(out, fe)
	}
	return out, nil
}

func collectFiles(root string, includeHidden bool) ([]transferFile, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []transferFile{{
			relName: filepath.Base(root),
			full:    root,
			size:    uint64(info.Size()),
			modTime: uint64(info.ModTime().Unix()),
		}}, nil
	}
	var out []transferFile
	err = filepath.Walk(root, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		base := filepath.Base(p)
		if !includeHidden && len(base) > 0 && base[0] == '.' && p != root {
			if fi.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if fi.Mode().IsRegular() {
			rel, rerr := filepath.Rel(root, p)
			if rerr != nil {
				return nil
			}
			out = append(out, transferFile{
				relName: rel,
				full:    p,
				size:    uint64(fi.Size()),
				modTime: uint64(fi.ModTime().Unix()),
			})
		}
		return nil
	})
	return out, err
}

func (c *Connection) sendDirListing(id int32, path string, includeHidden bool) {
	files, err := listDir(path, includeHidden)
	if err != nil {
		c.sendFileError(id, 0, err.Error())
		return
	}
	c.Send(&protocol.Message{FileResponse: &protocol.FileResponse{
		Dir: &protocol.FileDirectory{ID: id, Path: path, Files: files},
	}})
}

func (c *Connection) sendFileError(id, fileNum int32, text string) {
	c.Send(&protocol.Message{FileResponse: &protocol.FileResponse{
		Error: &protocol.FileTransferError{ID: id, FileNum: fileNum, Error: text},
	}})
}

// handleFileAction is the peer-driven side of the job manager.
func (c *Connection) handleFileAction(fa *protocol.FileAction) {
	if !c.perms.file {
		return
	}
	switch {
	case fa.ReadDir != nil:
		c.sendDirListing(0, fa.ReadDir.Path, fa.ReadDir.IncludeHidden)

	case fa.AllFiles != nil:
		files, err := collectFiles(fa.AllFiles.Path, fa.AllFiles.IncludeHidden)
		if err != nil {
			c.sendFileError(fa.AllFiles.ID, 0, err.Error())
			return
		}
		out := make([]protocol.FileEntry, 0, len(files))
		for _, f := range files {
			out = append(out, protocol.FileEntry{
				Name: f.relName, Size: f.size, ModifiedTime: f.modTime,
			})
		}
		c.Send(&protocol.Message{FileResponse: &protocol.FileResponse{
			Dir: &protocol.FileDirectory{ID: fa.AllFiles.ID, Path: fa.AllFiles.Path, Files: out},
		}})

	case fa.Send != nil:
		c.startSendJob(fa.Send)

	case fa.Receive != nil:
		c.startWriteJob(fa.Receive)

	case fa.Cancel != nil:
		c.cancelJob(fa.Cancel.ID)

	case fa.SendConfirm != nil:
		c.confirmSend(fa.SendConfirm)

	case fa.RemoveDir != nil:
		var err error
		if fa.RemoveDir.Recursive {
			err = os.RemoveAll(fa.RemoveDir.Path)
		} else {
			err = os.Remove(fa.RemoveDir.Path)
		}
		c.fileOpResult(fa.RemoveDir.ID, 0, err)

	case fa.RemoveFile != nil:
		c.fileOpResult(fa.RemoveFile.ID, fa.RemoveFile.FileNum, os.Remove(fa.RemoveFile.Path))

	case fa.Create != nil:
		c.fileOpResult(fa.Create.ID, 0, os.MkdirAll(fa.Create.Path, 0755))
	}
}

func (c *Connection) fileOpResult(id, fileNum int32, err error) {
	if err != nil {
		c.sendFileError(id, fileNum, err.Error())
		return
	}
	c.Send(&protocol.Message{FileResponse: &protocol.FileResponse{
		Done: &protocol.FileDone{ID: id, FileNum: fileNum},
	}})
}

// startSendJob enumerates the requested path and announces the first file.
// Blocks only start flowing after the peer confirms.
func (c *Connection) startSendJob(req *protocol.FileSendRequest) {
	files, err := collectFiles(req.Path, req.IncludeHidden)
	if err != nil {
		c.sendFileError(req.ID, 0, err.Error())
		return
	}
	if len(files) == 0 {
		c.sendFileError(req.ID, 0, "Empty folder")
		return
	}
	job := &TransferJob{ID: req.ID, Path: req.Path, files: files}
	c.jobs[req.ID] = job
	c.logEvent(fmt.Sprintf("file send job %d: %s (%d files)", req.ID, req.Path, len(files)))
	c.announceFile(job)
	c.armFileTimer()
}

// announceFile sends the digest of the current file so the peer can decide
// to skip, resume or overwrite. Peers predating digest confirmation get the
// blocks immediately.
func (c *Connection) announceFile(job *TransferJob) {
	if int(job.fileNum) >= len(job.files) {
		job.finished = true
		c.finishJob(job.ID, audit.FileRemoteSend, job.Path, job.transferred)
		return
	}
	f := job.files[job.fileNum]
	job.streaming = false
	if !versionAtLeast(c.peerVersion, constants.OverwriteMinVersion) {
		c.openCurrent(job, 0)
		return
	}
	c.Send(&protocol.Message{FileResponse: &protocol.FileResponse{
		Digest: &protocol.FileDigest{
			ID:           job.ID,
			FileNum:      job.fileNum,
			FileSize:     f.size,
			LastModified: f.modTime,
		},
	}})
}

func (c *Connection) confirmSend(sc *protocol.FileSendConfirm) {
	job, ok := c.jobs[sc.ID]
	if !ok || job.finished {
		return
	}
	if sc.Skip {
		job.fileNum++
		c.announceFile(job)
		return
	}
	c.openCurrent(job, sc.OffsetBlock)
}

// openCurrent opens the job's current file at the given block offset and
// starts streaming it.
func (c *Connection) openCurrent(job *TransferJob, offsetBlock uint32) {
	f := job.files[job.fileNum]
	fh, err := os.Open(f.full)
	if err != nil {
		c.sendFileError(job.ID, job.fileNum, err.Error())
		job.fileNum++
		c.announceFile(job)
		return
	}
	if offsetBlock > 0 {
		if _, err := fh.Seek(int64(offsetBlock)*constants.FileBlockSize, io.SeekStart); err != nil {
			fh.Close()
			c.sendFileError(job.ID, job.fileNum, err.Error())
			job.fileNum++
			c.announceFile(job)
			return
		}
	}
	job.f = fh
	job.blockIndex = offsetBlock
	job.streaming = true
	c.armFileTimer()
}

// versionAtLeast compares dotted numeric versions; malformed or missing
// components count as zero.
func versionAtLeast(v, min string) bool {
	pv := strings.Split(v, ".")
	pm := strings.Split(min, ".")
	for i := 0; i < len(pm); i++ {
		var a, b int
		if i < len(pv) {
			a, _ = strconv.Atoi(pv[i])
		}
		b, _ = strconv.Atoi(pm[i])
		if a != b {
			return a > b
		}
	}
	return true
}

// onFileTimer paces outbound blocks: one block per streaming job per tick.
func (c *Connection) onFileTimer() {
	active := false
	for _, job := range c.jobs {
		if job.streaming && !job.finished {
			c.pumpBlock(job)
			active = active || (job.streaming && !job.finished)
		}
	}
	if active {
		c.fileTimer.Reset(constants.FileTimerActive)
	} else {
		c.fileTimer.Reset(constants.FileTimerIdle)
	}
}

func (c *Connection) armFileTimer() {
	c.fileTimer.Reset(constants.FileTimerActive)
}

func (c *Connection) pumpBlock(job *TransferJob) {
	buf := make([]byte, constants.FileBlockSize)
	n, err := job.f.Read(buf)
	if n > 0 {
		c.fileTransferred = true
		c.Send(&protocol.Message{FileResponse: &protocol.FileResponse{
			Block: &protocol.FileBlock{
				ID:         job.ID,
				FileNum:    job.fileNum,
				Data:       buf[:n],
				BlockIndex: job.blockIndex,
			},
		}})
		job.blockIndex++
	}
	if err == nil {
		return
	}
	job.f.Close()
	job.f = nil
	if err != io.EOF {
		c.sendFileError(job.ID, job.fileNum, err.Error())
	} else {
		f := job.files[job.fileNum]
		job.transferred = append(job.transferred, audit.TransferredFile{Name: f.relName, Size: f.size})
		c.Send(&protocol.Message{FileResponse: &protocol.FileResponse{
			Done: &protocol.FileDone{ID: job.ID, FileNum: job.fileNum},
		}})
	}
	job.fileNum++
	c.announceFile(job)
}

// startWriteJob prepares to receive peer uploads into a local directory.
func (c *Connection) startWriteJob(req *protocol.FileReceiveRequest) {
	if err := os.MkdirAll(req.Path, 0755); err != nil {
		c.sendFileError(req.ID, 0, err.Error())
		return
	}
	c.writes[req.ID] = &writeJob{ID: req.ID, Path: req.Path, files: req.Files}
	c.logEvent(fmt.Sprintf("file receive job %d: %s (%d files)", req.ID, req.Path, len(req.Files)))
}

// handleFileResponse is the upload direction: the peer streams blocks that
// land in a write job.
func (c *Connection) handleFileResponse(fr *protocol.FileResponse) {
	if !c.perms.file {
		return
	}
	switch {
	case fr.Block != nil:
		c.writeBlock(fr.Block)
	case fr.Done != nil:
		c.writeDone(fr.Done)
	case fr.Error != nil:
		if job, ok := c.writes[fr.Error.ID]; ok {
			if job.f != nil {
				job.f.Close()
			}
			delete(c.writes, fr.Error.ID)
		}
	case fr.Digest != nil:
		// peer asks whether to overwrite; always continue from scratch
		c.Send(&protocol.Message{FileAction: &protocol.FileAction{
			SendConfirm: &protocol.FileSendConfirm{
				ID:      fr.Digest.ID,
				FileNum: fr.Digest.FileNum,
			},
		}})
	}
}

func (c *Connection) writeBlock(b *protocol.FileBlock) {
	job, ok := c.writes[b.ID]
	if !ok {
		return
	}
	if job.f == nil || job.fileNum != b.FileNum {
		if job.f != nil {
			job.f.Close()
		}
		if int(b.FileNum) >= len(job.files) {
			return
		}
		name := filepath.Join(job.Path, filepath.Clean(job.files[b.FileNum].Name))
		if err := os.MkdirAll(filepath.Dir(name), 0755); err != nil {
			c.sendFileError(b.ID, b.FileNum, err.Error())
			return
		}
		f, err := os.Create(name)
		if err != nil {
			c.sendFileError(b.ID, b.FileNum, err.Error())
			return
		}
		job.f = f
		job.fileNum = b.FileNum
	}
	if _, err := job.f.Write(b.Data); err != nil {
		c.sendFileError(b.ID, b.FileNum, err.Error())
		return
	}
	c.fileTransferred = true
}

func (c *Connection) writeDone(d *protocol.FileDone) {
	job, ok := c.writes[d.ID]
	if !ok {
		return
	}
	if job.f != nil {
		job.f.Close()
		job.f = nil
	}
	if int(d.FileNum) < len(job.files) {
		f := job.files[d.FileNum]
		job.transferred = append(job.transferred, audit.TransferredFile{Name: f.Name, Size: f.Size})
	}
	if int(d.FileNum)+1 >= len(job.files) {
		c.finishWriteJob(job)
	}
}

func (c *Connection) finishWriteJob(job *writeJob) {
	delete(c.writes, job.ID)
	c.deps.Audit.PostFile(c.id, c.peerID, audit.FileRemoteReceive, job.Path, job.transferred)
	c.SendToCM(&ipc.Data{Type: ipc.TypeFileTransferLog,
		FileTransferLog: fmt.Sprintf("receive %s: %d files", job.Path, len(job.transferred))})
}

func (c *Connection) finishJob(id int32, typ audit.FileAuditType, path string, files []audit.TransferredFile) {
	delete(c.jobs, id)
	c.deps.Audit.PostFile(c.id, c.peerID, typ, path, files)
	c.SendToCM(&ipc.Data{Type: ipc.TypeFileTransferLog,
		FileTransferLog: fmt.Sprintf("send %s: %d files", path, len(files))})
}

func (c *Connection) cancelJob(id int32) {
	if job, ok := c.jobs[id]; ok {
		if job.f != nil {
			job.f.Close()
		}
		c.finishJob(id, audit.FileRemoteSend, job.Path, job.transferred)
	}
	if job, ok := c.writes[id]; ok {
		if job.f != nil {
			job.f.Close()
		}
		delete(c.writes, id)
		c.deps.Audit.PostFile(c.id, c.peerID, audit.FileRemoteReceive, job.Path, job.transferred)
	}
}

// handleFSFromCM maps manager-driven file commands onto the peer wire.
func (c *Connection) handleFSFromCM(fs *ipc.FS) {
	switch fs.Type {
	case "read_dir":
		c.Send(&protocol.Message{FileAction: &protocol.FileAction{
			ReadDir: &protocol.ReadDirRequest{Path: fs.Path, IncludeHidden: fs.IncludeHidden},
		}})
	case "new_write":
		files := make([]protocol.FileEntry, 0, len(fs.Files))
		for _, f := range fs.Files {
			files = append(files, protocol.FileEntry{Name: f.Name, IsDir: f.IsDir, Size: f.Size})
		}
		c.Send(&protocol.Message{FileAction: &protocol.FileAction{
			Receive: &protocol.FileReceiveRequest{
				ID:        int32(fs.ID),
				Path:      fs.Path,
				Files:     files,
				TotalSize: fs.TotalSize,
			},
		}})
	case "write_block":
		c.fileTransferred = true
		c.Send(&protocol.Message{FileResponse: &protocol.FileResponse{
			Block: &protocol.FileBlock{
				ID:         int32(fs.ID),
				FileNum:    int32(fs.FileNum),
				Data:       fs.Data,
				Compressed: fs.Compressed,
			},
		}})
	case "write_done":
		c.Send(&protocol.Message{FileResponse: &protocol.FileResponse{
			Done: &protocol.FileDone{ID: int32(fs.ID), FileNum: int32(fs.FileNum)},
		}})
	case "write_error":
		c.Send(&protocol.Message{FileResponse: &protocol.FileResponse{
			Error: &protocol.FileTransferError{
				ID: int32(fs.ID), FileNum: int32(fs.FileNum), Error: fs.Error,
			},
		}})
	case "check_digest":
		c.Send(&protocol.Message{FileResponse: &protocol.FileResponse{
			Digest: &protocol.FileDigest{
				ID:           int32(fs.ID),
				FileNum:      int32(fs.FileNum),
				FileSize:     fs.FileSize,
				LastModified: fs.LastModified,
				IsUpload:     fs.IsUpload,
			},
		}})
	case "cancel_write":
		c.Send(&protocol.Message{FileAction: &protocol.FileAction{
			Cancel: &protocol.FileTransferCancel{ID: int32(fs.ID)},
		}})
	case "remove_dir":
		c.Send(&protocol.Message{FileAction: &protocol.FileAction{
			RemoveDir: &protocol.FileRemoveDir{ID: int32(fs.ID), Path: fs.Path, Recursive: fs.Recursive},
		}})
	case "remove_file":
		c.Send(&protocol.Message{FileAction: &protocol.FileAction{
			RemoveFile: &protocol.FileRemoveFile{ID: int32(fs.ID), Path: fs.Path, FileNum: int32(fs.FileNum)},
		}})
	case "create_dir":
		c.Send(&protocol.Message{FileAction: &protocol.FileAction{
			Create: &protocol.FileDirCreate{ID: int32(fs.ID), Path: fs.Path},
		}})
	}
}
