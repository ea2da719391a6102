package server

import (
	"fmt"
	"log"
	"net"
	"net/http"

	"github.com/gorilla/websocket"
	"golang.org/x/net/netutil"

	"rdeskd/internal/constants"
	"rdeskd/internal/protocol"
)

// Server accepts peer transports and hands them to the connection handler.
// It speaks plain TCP and WebSocket; both land on the same handler as a
// net.Conn. With E2EE enabled every accepted transport is wrapped after an
// X25519 handshake.
type Server struct {
	Addr    string
	WSAddr  string
	E2EE    bool
	Handler func(conn net.Conn)

	ln   net.Listener
	http *http.Server
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  constants.WSBufferSize,
	WriteBufferSize: constants.WSBufferSize,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// ListenAndServe accepts TCP peers until the listener closes. The accept
// count is capped so a connect flood cannot exhaust the process.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.Addr, err)
	}
	s.ln = netutil.LimitListener(ln, constants.MaxAcceptedConns)
	log.Printf("listening on %s", s.Addr)

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return err
		}
		go s.handle(conn)
	}
}

// ListenAndServeWS accepts WebSocket peers on /ws.
func (s *Server) ListenAndServeWS() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("websocket upgrade failed: %v", err)
			return
		}
		s.handle(protocol.NewWSConn(ws))
	})
	s.http = &http.Server{Addr: s.WSAddr, Handler: mux}
	log.Printf("websocket listening on %s", s.WSAddr)
	return s.http.ListenAndServe()
}

func (s *Server) handle(conn net.Conn) {
	if s.E2EE {
		key, err := protocol.Handshake(conn, true)
		if err != nil {
			log.Printf("handshake with %s failed: %v", conn.RemoteAddr(), err)
			conn.Close()
			return
		}
		sc, err := protocol.NewSecureConn(conn, key)
		if err != nil {
			log.Printf("secure wrap failed: %v", err)
			conn.Close()
			return
		}
		conn = sc
	}
	s.Handler(conn)
}

func (s *Server) Close() error {
	if s.http != nil {
		s.http.Close()
	}
	if s.ln != nil {
		return s.ln.Close()
	}
	return nil
}
