package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"rdeskd/internal/constants"
)

// Stream frames Messages over a net.Conn with a 4-byte big-endian length
// prefix. After SetRaw the framing is bypassed and the stream degrades to a
// plain byte pipe (port-forward mode).
type Stream struct {
	conn        net.Conn
	mu          sync.Mutex // serializes writes
	sendTimeout time.Duration
	raw         bool
}

func NewStream(conn net.Conn) *Stream {
	return &Stream{
		conn:        conn,
		sendTimeout: constants.SendTimeoutVideo,
	}
}

// SetSendTimeout widens or narrows the per-write deadline. File transfer and
// port forwarding get a longer budget than interactive traffic.
func (s *Stream) SetSendTimeout(d time.Duration) {
	s.mu.Lock()
	s.sendTimeout = d
	s.mu.Unlock()
}

// SetRaw switches the stream to unframed byte relay mode.
func (s *Stream) SetRaw() {
	s.mu.Lock()
	s.raw = true
	s.mu.Unlock()
}

// Send marshals and writes one framed message. Any error is terminal for
// the connection.
func (s *Stream) Send(msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return s.SendRaw(data)
}

// SendRaw writes one frame of already-encoded bytes.
func (s *Stream) SendRaw(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sendTimeout > 0 {
		s.conn.SetWriteDeadline(time.Now().Add(s.sendTimeout))
		defer s.conn.SetWriteDeadline(time.Time{})
	}

	if s.raw {
		_, err := s.conn.Write(data)
		return err
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := s.conn.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := s.conn.Write(data)
	return err
}

// Next reads one framed message. In raw mode it returns the next chunk of
// bytes as RawBytes with a nil Message.
func (s *Stream) Next() (*Message, error) {
	data, err := s.NextRaw()
	if err != nil {
		return nil, err
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		// A malformed frame is ignored rather than fatal; the caller skips it.
		return nil, nil
	}
	return &msg, nil
}

// NextRaw reads one frame of bytes. In raw mode it reads whatever is
// available into a fixed buffer.
func (s *Stream) NextRaw() ([]byte, error) {
	if s.isRaw() {
		buf := make([]byte, constants.WSBufferSize)
		n, err := s.conn.Read(buf)
		if err != nil {
			return nil, err
		}
		return buf[:n], nil
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(s.conn, lenBuf[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length > constants.MaxFrameSize {
		return nil, fmt.Errorf("frame too large: %d bytes", length)
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(s.conn, data); err != nil {
		return nil, err
	}
	return data, nil
}

func (s *Stream) isRaw() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.raw
}

func (s *Stream) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

func (s *Stream) Close() error { return s.conn.Close() }
