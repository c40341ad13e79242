package ocpp

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParse_Call(t *testing.T) {
	raw := []byte(`[2,"19223201","RemoteStartTransaction",{"idTag":"TAG1","connectorId":1}]`)
	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	call, ok := msg.(*Call)
	if !ok {
		t.Fatalf("expected *Call, got %T", msg)
	}
	if call.MessageID != "19223201" || call.Action != ActionRemoteStartTransaction {
		t.Fatalf("bad call header: %+v", call)
	}
	var req RemoteStartTransactionRequest
	if err := json.Unmarshal(call.Payload, &req); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if req.IdTag != "TAG1" || req.ConnectorID == nil || *req.ConnectorID != 1 {
		t.Fatalf("bad payload: %+v", req)
	}
}

func TestParse_CallResultAndError(t *testing.T) {
	msg, err := Parse([]byte(`[3,"abc",{"status":"Accepted"}]`))
	if err != nil {
		t.Fatalf("parse result: %v", err)
	}
	if _, ok := msg.(*CallResult); !ok {
		t.Fatalf("expected *CallResult, got %T", msg)
	}

	msg, err = Parse([]byte(`[4,"abc","FormationViolation","missing field",{}]`))
	if err != nil {
		t.Fatalf("parse error frame: %v", err)
	}
	ce, ok := msg.(*CallError)
	if !ok {
		t.Fatalf("expected *CallError, got %T", msg)
	}
	if ce.Code != ErrFormationViolation {
		t.Fatalf("bad error code: %s", ce.Code)
	}
}

func TestParse_Malformed(t *testing.T) {
	cases := []string{
		`{"not":"an array"}`,
		`[2,"id"]`,
		`[9,"id",{}]`,
		`[2,"","Heartbeat",{}]`,
		`not json`,
	}
	for _, c := range cases {
		if _, err := Parse([]byte(c)); err == nil {
			t.Fatalf("expected error for %s", c)
		}
	}
}

func TestCall_MarshalRoundTrip(t *testing.T) {
	payload, _ := json.Marshal(HeartbeatRequest{})
	out, err := json.Marshal(Call{MessageID: "m1", Action: ActionHeartbeat, Payload: payload})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `[2,"m1","Heartbeat",{}]`
	if string(out) != want {
		t.Fatalf("got %s want %s", out, want)
	}
}

func TestParseTimestamp_Forms(t *testing.T) {
	cases := []struct {
		name string
		in   string
	}{
		{"utc-z", "2026-03-01T10:00:00Z"},
		{"offset", "2026-03-01T12:00:00+02:00"},
		{"naive", "2026-03-01T10:00:00"},
		{"naive-ms", "2026-03-01T10:00:00.250"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := ParseTimestamp(c.in)
			if err != nil {
				t.Fatalf("parse %q: %v", c.in, err)
			}
			if got.Location() != time.Local {
				t.Fatalf("expected local time, got %v", got.Location())
			}
		})
	}
	// "Z" 与显式偏移应换算到同一瞬间
	a, _ := ParseTimestamp("2026-03-01T10:00:00Z")
	b, _ := ParseTimestamp("2026-03-01T12:00:00+02:00")
	if !a.Equal(b) {
		t.Fatalf("utc and offset forms differ: %v vs %v", a, b)
	}
	if _, err := ParseTimestamp("definitely not a date"); err == nil {
		t.Fatal("expected error for garbage timestamp")
	}
}
