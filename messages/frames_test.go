package messages

import "testing"

func TestStampSession(t *testing.T) {
	frames := []Outbound{
		NewConfig("init", ToggleStates{Gemini: true}),
		NewLoadSessionsRequest(),
		NewLoadSessionMessagesRequest("target"),
		NewCreateSessionBackend("id", "name", 123),
		NewRenameSessionRequest("id", "new"),
		NewDeleteSessionRequest("id"),
		NewTextInput("hello", ""),
		NewRealtimeInput(MediaChunk{MimeType: "audio/pcm", Data: "AAAA"}),
		NewSetAPIKey("gemini", "key"),
		NewUpdateToggleState(ToggleEval, true),
	}

	for _, f := range frames {
		f.StampSession("sess-1")
		data, err := Encode(f)
		if err != nil {
			t.Fatalf("%s: encode failed: %v", f.FrameType(), err)
		}

		var back ClientFrame
		if err := Decode(data, &back); err != nil {
			t.Fatalf("%s: decode failed: %v", f.FrameType(), err)
		}
		if back.SessionID != "sess-1" {
			t.Errorf("%s: sessionId = %q, want sess-1", f.FrameType(), back.SessionID)
		}
	}
}

func TestSessionOptionalTypes(t *testing.T) {
	for _, typ := range []string{TypeConfig, TypeLoadSessionsRequest, TypeSetAPIKey, TypeUpdateToggleState} {
		if !SessionOptionalTypes[typ] {
			t.Errorf("%s should tolerate a placeholder session id", typ)
		}
	}
	for _, typ := range []string{TypeTextInput, TypeRenameSessionRequest, TypeDeleteSessionRequest} {
		if SessionOptionalTypes[typ] {
			t.Errorf("%s must never be sent with a placeholder session id", typ)
		}
	}
}

func TestToggleAckBothLayouts(t *testing.T) {
	var nested ServerFrame
	if err := Decode([]byte(`{"type":"toggle_state_update_ack","data":{"toggleName":"eval","isEnabled":true,"status":"success"}}`), &nested); err != nil {
		t.Fatal(err)
	}
	ack := nested.ToggleAck()
	if ack.ToggleName != "eval" || !ack.IsEnabled || ack.Status != StatusSuccess {
		t.Errorf("nested layout: %+v", ack)
	}

	var flat ServerFrame
	if err := Decode([]byte(`{"type":"toggle_state_update_ack","toggleName":"grounding","isEnabled":false,"status":"error","message":"nope"}`), &flat); err != nil {
		t.Fatal(err)
	}
	ack = flat.ToggleAck()
	if ack.ToggleName != "grounding" || ack.IsEnabled || ack.Message != "nope" {
		t.Errorf("flat layout: %+v", ack)
	}
}

func TestAPIKeyAckBothLayouts(t *testing.T) {
	var nested ServerFrame
	if err := Decode([]byte(`{"type":"api_key_set_ack","data":{"service":"gemini","status":"success"}}`), &nested); err != nil {
		t.Fatal(err)
	}
	if ack := nested.APIKeyAck(); ack.Service != "gemini" || ack.Status != StatusSuccess {
		t.Errorf("nested layout: %+v", ack)
	}

	var flat ServerFrame
	if err := Decode([]byte(`{"type":"api_key_set_ack","service":"gemini","status":"error","message":"invalid"}`), &flat); err != nil {
		t.Fatal(err)
	}
	if ack := flat.APIKeyAck(); ack.Status != StatusError || ack.Message != "invalid" {
		t.Errorf("flat layout: %+v", ack)
	}
}

func TestRealtimeInputShape(t *testing.T) {
	f := NewRealtimeInput(MediaChunk{MimeType: "audio/pcm", Data: "QUJD"})
	f.StampSession("s1")
	data, err := Encode(f)
	if err != nil {
		t.Fatal(err)
	}

	var back ClientFrame
	if err := Decode(data, &back); err != nil {
		t.Fatal(err)
	}
	if back.Type != "" {
		t.Errorf("realtime_input must not carry a type field, got %q", back.Type)
	}
	if back.RealtimeInput == nil || len(back.RealtimeInput.MediaChunks) != 1 {
		t.Fatalf("media chunks missing: %+v", back.RealtimeInput)
	}
	if back.RealtimeInput.MediaChunks[0].MimeType != "audio/pcm" {
		t.Errorf("unexpected chunk %+v", back.RealtimeInput.MediaChunks[0])
	}
}
