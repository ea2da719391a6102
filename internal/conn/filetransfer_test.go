package conn

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"rdeskd/internal/protocol"
)

func TestFileTransferListingAndDownload(t *testing.T) {
	dir := t.TempDir()
	content := bytes.Repeat([]byte("abc123"), 1000)
	if err := os.WriteFile(filepath.Join(dir, "data.bin"), content, 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".hidden"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	h := newHarness(t, harnessOpts{})
	lr := h.loginRequest(testTempPwd)
	lr.FileTransfer = &protocol.FileTransferMode{Dir: dir}
	res := h.login(lr)
	if res.Error != "" {
		t.Fatalf("file transfer login failed: %s", res.Error)
	}

	// the initial listing of the requested directory follows the logon
	msg := h.expect()
	if msg.FileResponse == nil || msg.FileResponse.Dir == nil {
		t.Fatalf("expected initial dir listing, got %+v", msg)
	}
	listing := msg.FileResponse.Dir
	if len(listing.Files) != 1 || listing.Files[0].Name != "data.bin" {
		t.Fatalf("hidden files must be skipped by default: %+v", listing.Files)
	}

	// request the file and confirm from block zero
	h.client.Send(&protocol.Message{FileAction: &protocol.FileAction{
		Send: &protocol.FileSendRequest{ID: 1, Path: filepath.Join(dir, "data.bin")},
	}})
	msg = h.expect()
	if msg.FileResponse == nil || msg.FileResponse.Digest == nil {
		t.Fatalf("expected digest announcement, got %+v", msg)
	}
	if msg.FileResponse.Digest.FileSize != uint64(len(content)) {
		t.Fatalf("digest size %d, want %d", msg.FileResponse.Digest.FileSize, len(content))
	}

	h.client.Send(&protocol.Message{FileAction: &protocol.FileAction{
		SendConfirm: &protocol.FileSendConfirm{ID: 1, FileNum: 0},
	}})

	var got []byte
	for {
		msg = h.expect()
		if msg.FileResponse == nil {
			t.Fatalf("unexpected message during transfer: %+v", msg)
		}
		if msg.FileResponse.Block != nil {
			got = append(got, msg.FileResponse.Block.Data...)
			continue
		}
		if msg.FileResponse.Done != nil {
			break
		}
		t.Fatalf("unexpected file response: %+v", msg.FileResponse)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("transferred bytes differ: got %d bytes, want %d", len(got), len(content))
	}
}

func TestFileTransferSkip(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.txt", "b.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(name), 0644); err != nil {
			t.Fatal(err)
		}
	}

	h := newHarness(t, harnessOpts{})
	h.login(h.loginRequest(testTempPwd))

	h.client.Send(&protocol.Message{FileAction: &protocol.FileAction{
		Send: &protocol.FileSendRequest{ID: 2, Path: dir},
	}})
	msg := h.expect()
	if msg.FileResponse == nil || msg.FileResponse.Digest == nil || msg.FileResponse.Digest.FileNum != 0 {
		t.Fatalf("expected digest for first file, got %+v", msg)
	}

	// skip the first file, expect the second announced
	h.client.Send(&protocol.Message{FileAction: &protocol.FileAction{
		SendConfirm: &protocol.FileSendConfirm{ID: 2, FileNum: 0, Skip: true},
	}})
	msg = h.expect()
	if msg.FileResponse == nil || msg.FileResponse.Digest == nil || msg.FileResponse.Digest.FileNum != 1 {
		t.Fatalf("expected digest for second file, got %+v", msg)
	}
}

func TestVersionAtLeast(t *testing.T) {
	cases := []struct {
		v, min string
		want   bool
	}{
		{"1.1.10", "1.1.10", true},
		{"1.2.0", "1.1.10", true},
		{"1.1.9", "1.1.10", false},
		{"1.4.0", "1.1.10", true},
		{"0.9", "1.1.10", false},
		{"2", "1.1.10", true},
		{"", "1.1.10", false},
		{"garbage", "1.1.10", false},
	}
	for _, c := range cases {
		if got := versionAtLeast(c.v, c.min); got != c.want {
			t.Fatalf("versionAtLeast(%q, %q) = %v, want %v", c.v, c.min, got, c.want)
		}
	}
}

func TestFileUpload(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "incoming")

	h := newHarness(t, harnessOpts{})
	h.login(h.loginRequest(testTempPwd))

	h.client.Send(&protocol.Message{FileAction: &protocol.FileAction{
		Receive: &protocol.FileReceiveRequest{
			ID:   3,
			Path: dst,
			Files: []protocol.FileEntry{
				{Name: "up.txt", Size: 5},
			},
		},
	}})
	h.client.Send(&protocol.Message{FileResponse: &protocol.FileResponse{
		Block: &protocol.FileBlock{ID: 3, FileNum: 0, Data: []byte("hello")},
	}})
	h.client.Send(&protocol.Message{FileResponse: &protocol.FileResponse{
		Done: &protocol.FileDone{ID: 3, FileNum: 0},
	}})

	waitForFile := func() []byte {
		deadline := 200
		for i := 0; i < deadline; i++ {
			if data, err := os.ReadFile(filepath.Join(dst, "up.txt")); err == nil {
				return data
			}
			time.Sleep(10 * time.Millisecond)
		}
		t.Fatalf("uploaded file never appeared")
		return nil
	}
	if data := waitForFile(); string(data) != "hello" {
		t.Fatalf("uploaded content %q", data)
	}
}
