package protocol

import (
	"encoding/binary"
	"net"
	"testing"

	"rdeskd/internal/constants"
)

func TestStreamRoundTrip(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	sa, sb := NewStream(a), NewStream(b)

	go func() {
		sa.Send(&Message{Hash: &Hash{Salt: "s", Challenge: "c"}})
	}()

	msg, err := sb.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if msg.Hash == nil || msg.Hash.Salt != "s" || msg.Hash.Challenge != "c" {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestStreamMalformedFrameSkipped(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	sb := NewStream(b)

	go func() {
		payload := []byte("{not json")
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
		a.Write(lenBuf[:])
		a.Write(payload)
	}()

	msg, err := sb.Next()
	if err != nil {
		t.Fatalf("malformed frame must not be a stream error, got %v", err)
	}
	if msg != nil {
		t.Fatalf("malformed frame produced a message: %+v", msg)
	}
}

func TestStreamFrameTooLarge(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	sb := NewStream(b)

	go func() {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(constants.MaxFrameSize+1))
		a.Write(lenBuf[:])
	}()

	if _, err := sb.NextRaw(); err == nil {
		t.Fatalf("oversized frame accepted")
	}
}

func TestStreamRawMode(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	sa, sb := NewStream(a), NewStream(b)
	sa.SetRaw()
	sb.SetRaw()

	go func() {
		sa.SendRaw([]byte("tunnel-bytes"))
	}()

	data, err := sb.NextRaw()
	if err != nil {
		t.Fatalf("NextRaw: %v", err)
	}
	if string(data) != "tunnel-bytes" {
		t.Fatalf("raw bytes mangled: %q", data)
	}
}

func TestIsVideoPriority(t *testing.T) {
	cases := []struct {
		msg  *Message
		want bool
	}{
		{&Message{VideoFrame: &VideoFrame{}}, true},
		{&Message{Misc: &Misc{SwitchDisplay: &SwitchDisplay{Display: 1}}}, true},
		{&Message{AudioFrame: &AudioFrame{}}, false},
		{&Message{Misc: &Misc{ChatMessage: &ChatMessage{Text: "hi"}}}, false},
	}
	for i, c := range cases {
		if got := c.msg.IsVideoPriority(); got != c.want {
			t.Fatalf("case %d: got %v, want %v", i, got, c.want)
		}
	}
}
