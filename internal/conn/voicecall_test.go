package conn

import (
	"testing"

	"rdeskd/internal/config"
	"rdeskd/internal/protocol"
)

func TestVoiceCallRejectedWithoutAudio(t *testing.T) {
	h := newHarness(t, harnessOpts{
		mutate: func(cfg *config.Config) { cfg.EnableAudio = false },
	})
	h.login(h.loginRequest(testTempPwd))

	h.client.Send(&protocol.Message{VoiceCallRequest: &protocol.VoiceCallRequest{
		ReqTimestamp: 1234,
		IsConnect:    true,
	}})

	msg := h.expect()
	if msg.VoiceCallResponse == nil {
		t.Fatalf("expected voice call response, got %+v", msg)
	}
	if msg.VoiceCallResponse.Accepted {
		t.Fatalf("call accepted despite missing audio permission")
	}
	if msg.VoiceCallResponse.ReqTimestamp != 1234 {
		t.Fatalf("request timestamp not echoed: %+v", msg.VoiceCallResponse)
	}
}

func TestBlockInputRequiresKeyboard(t *testing.T) {
	h := newHarness(t, harnessOpts{
		mutate: func(cfg *config.Config) { cfg.EnableKeyboard = false },
	})
	h.login(h.loginRequest(testTempPwd))

	// without the keyboard grant the toggle is ignored entirely
	h.client.Send(&protocol.Message{Misc: &protocol.Misc{
		Option: &protocol.OptionMessage{BlockInput: protocol.TriYes},
	}})

	// the elevation reply proves the preceding option was processed
	h.client.Send(&protocol.Message{Misc: &protocol.Misc{
		ElevationRequest: &protocol.ElevationRequest{Direct: true},
	}})
	if msg := h.expect(); msg.Misc == nil || msg.Misc.ElevationResponse == nil {
		t.Fatalf("expected elevation response, got %+v", msg)
	}

	if h.conn.deps.Input.Blocked() {
		t.Fatalf("input blocked without keyboard permission")
	}
}

func TestElevationDeniedWithoutKeyboard(t *testing.T) {
	h := newHarness(t, harnessOpts{
		mutate: func(cfg *config.Config) { cfg.EnableKeyboard = false },
	})
	h.login(h.loginRequest(testTempPwd))

	h.client.Send(&protocol.Message{Misc: &protocol.Misc{
		ElevationRequest: &protocol.ElevationRequest{Direct: true},
	}})

	msg := h.expect()
	if msg.Misc == nil || msg.Misc.ElevationResponse == nil {
		t.Fatalf("expected elevation response, got %+v", msg)
	}
	if *msg.Misc.ElevationResponse != "No permission" {
		t.Fatalf("unexpected elevation response %q", *msg.Misc.ElevationResponse)
	}
}
