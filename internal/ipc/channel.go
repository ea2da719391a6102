package ipc

import (
	"encoding/json"
	"fmt"
	"net"

	"github.com/hashicorp/yamux"
)

// Channel is one bidirectional CM link carrying newline-delimited JSON Data
// frames. Each remote connection gets its own channel (a yamux stream when
// the CM runs out of process).
type Channel struct {
	rwc net.Conn
	enc *json.Encoder
	dec *json.Decoder
}

func NewChannel(rwc net.Conn) *Channel {
	return &Channel{
		rwc: rwc,
		enc: json.NewEncoder(rwc),
		dec: json.NewDecoder(rwc),
	}
}

func (c *Channel) Send(d *Data) error {
	return c.enc.Encode(d)
}

func (c *Channel) Recv() (*Data, error) {
	var d Data
	if err := c.dec.Decode(&d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *Channel) Close() error { return c.rwc.Close() }

// Connector multiplexes per-connection CM channels over one local socket.
type Connector struct {
	session *yamux.Session
}

// Connect dials the CM socket and sets up the stream multiplexer.
func Connect(socketPath string) (*Connector, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("dial cm socket: %w", err)
	}
	session, err := yamux.Client(conn, nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("yamux client: %w", err)
	}
	return &Connector{session: session}, nil
}

// Open creates a fresh CM channel for one remote connection.
func (c *Connector) Open() (*Channel, error) {
	stream, err := c.session.Open()
	if err != nil {
		return nil, fmt.Errorf("open cm stream: %w", err)
	}
	return NewChannel(stream), nil
}

func (c *Connector) Close() error { return c.session.Close() }

// Listener accepts per-connection CM channels on the manager side.
type Listener struct {
	ln      net.Listener
	session *yamux.Session
}

// Listen binds the CM socket and waits for the daemon to attach.
func Listen(socketPath string) (*Listener, error) {
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen cm socket: %w", err)
	}
	return &Listener{ln: ln}, nil
}

// Accept returns the next per-connection channel. The first call also
// performs the yamux handshake with the daemon.
func (l *Listener) Accept() (*Channel, error) {
	if l.session == nil {
		conn, err := l.ln.Accept()
		if err != nil {
			return nil, err
		}
		session, err := yamux.Server(conn, nil)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("yamux server: %w", err)
		}
		l.session = session
	}
	stream, err := l.session.Accept()
	if err != nil {
		return nil, err
	}
	return NewChannel(stream), nil
}

func (l *Listener) Close() error {
	if l.session != nil {
		l.session.Close()
	}
	return l.ln.Close()
}

// Pump shuttles Data frames between the channel and the in-process queues
// until either side closes. Incoming frames land on fromCM; frames taken
// from toCM go out on the wire. The fromCM queue is closed on exit so the
// event loop observes the CM going away.
func Pump(ch *Channel, fromCM chan<- *Data, toCM <-chan *Data) {
	done := make(chan struct{})
	quit := make(chan struct{})

	go func() {
		defer close(done)
		for {
			d, err := ch.Recv()
			if err != nil {
				close(fromCM)
				return
			}
			// the engine may already have exited; never block on its queue
			select {
			case fromCM <- d:
			case <-quit:
				return
			}
		}
	}()

	for {
		select {
		case d, ok := <-toCM:
			if !ok {
				ch.Close()
				close(quit)
				<-done
				return
			}
			if err := ch.Send(d); err != nil {
				ch.Close()
				close(quit)
				<-done
				return
			}
		case <-done:
			return
		}
	}
}
