package main

import (
	"crypto/rand"
	"fmt"
	"log"
	"math/big"
	"net"

	"github.com/joho/godotenv"
	qrcode "github.com/skip2/go-qrcode"

	"rdeskd/internal/audit"
	"rdeskd/internal/auth"
	"rdeskd/internal/capture"
	"rdeskd/internal/config"
	"rdeskd/internal/conn"
	"rdeskd/internal/constants"
	"rdeskd/internal/input"
	"rdeskd/internal/ipc"
	"rdeskd/internal/protocol"
	"rdeskd/internal/server"
	"rdeskd/internal/session"
)

func main() {
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded configuration from .env file")
	}

	cfg := config.FromEnv()
	if cfg.Addr == "" {
		cfg.Addr = constants.DefaultAddr
	}
	if cfg.ID == "" {
		cfg.ID = newDeviceID()
	}
	if cfg.Salt == "" {
		salt, err := auth.NewChallenge(8)
		if err != nil {
			log.Fatalf("salt generation failed: %v", err)
		}
		cfg.Salt = salt
	}

	if cfg.TemporaryEnabled {
		pwd, err := auth.NewChallenge(constants.ChallengeLength)
		if err != nil {
			log.Fatalf("password generation failed: %v", err)
		}
		cfg.SetTemporaryPassword(pwd)
		printPairing(cfg.ID, pwd)
	}

	sessions := session.NewStore()
	defer sessions.Close()

	registry := server.NewRegistry()
	registry.OnAllClosed = func() {
		registry.ReleasePrivacy(0)
		if cfg.TemporaryEnabled {
			if pwd, err := auth.NewChallenge(constants.ChallengeLength); err == nil {
				cfg.SetTemporaryPassword(pwd)
				printPairing(cfg.ID, pwd)
			}
		}
		log.Println("all connections closed")
	}

	throttle := auth.NewThrottle()
	auditor := audit.NewEmitter(cfg.AuditServer, cfg.ID)
	inputSvc := input.NewService(nil)
	defer inputSvc.Close()

	var connector *ipc.Connector
	if cfg.CMSocket != "" {
		var err error
		connector, err = ipc.Connect(cfg.CMSocket)
		if err != nil {
			log.Printf("connection manager unavailable: %v", err)
		} else {
			defer connector.Close()
		}
	}

	srv := &server.Server{
		Addr:   cfg.Addr,
		WSAddr: config.GetEnv("RDESKD_WS_ADDR", ""),
		E2EE:   cfg.E2EE,
		Handler: func(raw net.Conn) {
			deps := conn.Deps{
				Cfg:          cfg,
				Registry:     registry,
				Sessions:     sessions,
				Throttle:     throttle,
				Audit:        auditor,
				Input:        inputSvc,
				DesktopReady: func() bool { return true },
				CaptureProbe: capture.Probe,
				Displays:     displayInfo,
			}
			if connector != nil {
				if ch, err := connector.Open(); err == nil {
					deps.CM = ch
				}
			}
			conn.New(deps, raw).Start()
		},
	}

	if srv.WSAddr != "" {
		go func() {
			if err := srv.ListenAndServeWS(); err != nil {
				log.Printf("websocket listener stopped: %v", err)
			}
		}()
	}

	log.Printf("%s %s, device id %s", constants.AppName, constants.Version, cfg.ID)
	if err := srv.ListenAndServe(); err != nil {
		log.Fatalf("listener stopped: %v", err)
	}
}

func displayInfo() []protocol.DisplayInfo {
	var out []protocol.DisplayInfo
	for _, b := range capture.Displays() {
		out = append(out, protocol.DisplayInfo{
			X:      b.Min.X,
			Y:      b.Min.Y,
			Width:  b.Dx(),
			Height: b.Dy(),
		})
	}
	return out
}

// newDeviceID picks a random 9-digit id, the format peers dial.
func newDeviceID() string {
	max := big.NewInt(900_000_000)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		log.Fatalf("id generation failed: %v", err)
	}
	return fmt.Sprintf("%09d", n.Int64()+100_000_000)
}

// printPairing shows the one-time pairing code as text and QR.
func printPairing(id, password string) {
	content := fmt.Sprintf("rdeskd://%s/%s", id, password)
	q, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		log.Printf("qr code generation failed: %v", err)
	} else {
		fmt.Println(q.ToSmallString(false))
	}
	log.Printf("device id: %s  one-time password: %s", id, password)
}
