package protocol

import (
	"encoding/json"
	"testing"
	"time"
)

func TestDecodeClientFrameDispatchesByType(t *testing.T) {
	raw := []byte(`{"type":"hello","client_version":"1.0.0","device_name":"phone-a"}`)
	msg, err := DecodeClientFrame(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	hello, ok := msg.(Hello)
	if !ok {
		t.Fatalf("expected Hello, got %T", msg)
	}
	if hello.DeviceName != "phone-a" || hello.ClientVersion != "1.0.0" {
		t.Fatalf("unexpected hello: %+v", hello)
	}
}

func TestDecodeClientFrameIgnoresUnknownFields(t *testing.T) {
	raw := []byte(`{"type":"input","session":"demo","text":"hi","extra_field_from_future_client":true}`)
	msg, err := DecodeClientFrame(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	input, ok := msg.(Input)
	if !ok || input.Session != "demo" || input.Text != "hi" {
		t.Fatalf("unexpected decode: %+v (%T)", msg, msg)
	}
}

func TestDecodeClientFrameRejectsUnknownType(t *testing.T) {
	_, err := DecodeClientFrame([]byte(`{"type":"not_a_real_type"}`))
	if err == nil {
		t.Fatalf("expected error for unknown type")
	}
	var unknown ErrUnknownType
	if !asErrUnknownType(err, &unknown) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
}

func asErrUnknownType(err error, target *ErrUnknownType) bool {
	if u, ok := err.(ErrUnknownType); ok {
		*target = u
		return true
	}
	return false
}

func TestSubscribeSelectorWildcard(t *testing.T) {
	raw := []byte(`{"type":"subscribe","sessions":"*"}`)
	msg, err := DecodeClientFrame(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sub := msg.(Subscribe)
	if !sub.Sessions.All {
		t.Fatalf("expected wildcard selector")
	}

	encoded, err := json.Marshal(sub.Sessions)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(encoded) != `"*"` {
		t.Fatalf("unexpected encoding: %s", encoded)
	}
}

func TestSubscribeSelectorNamedList(t *testing.T) {
	raw := []byte(`{"type":"subscribe","sessions":["a","b"]}`)
	msg, err := DecodeClientFrame(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sub := msg.(Subscribe)
	if sub.Sessions.All || len(sub.Sessions.Names) != 2 {
		t.Fatalf("unexpected selector: %+v", sub.Sessions)
	}
}

func TestTimeRoundTripWithAndWithoutFractionalSeconds(t *testing.T) {
	cases := []string{
		`"2024-01-02T03:04:05Z"`,
		`"2024-01-02T03:04:05.123456Z"`,
		`"2024-01-02T03:04:05.123456+00:00"`,
		`"2024-01-02T03:04:05"`,
	}
	for _, raw := range cases {
		var parsed Time
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			t.Fatalf("unmarshal %s: %v", raw, err)
		}
		if parsed.Year() != 2024 {
			t.Fatalf("unexpected parse of %s: %v", raw, parsed)
		}
	}
}

func TestEventEncodeDecodeRoundTrip(t *testing.T) {
	original := NewEvent("demo", 7, NewTime(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)), json.RawMessage(`{"type":"assistant"}`))
	data, err := EncodeServerFrame(original)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var decodedTag typeTag
	if err := json.Unmarshal(data, &decodedTag); err != nil {
		t.Fatalf("decode tag: %v", err)
	}
	if decodedTag.Type != TypeEvent {
		t.Fatalf("unexpected type tag: %s", decodedTag.Type)
	}

	var decoded Event
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Session != original.Session || decoded.Sequence != original.Sequence {
		t.Fatalf("round trip mismatch: %+v vs %+v", decoded, original)
	}
}
