package stratum

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	req := NewRequest(1, MethodSubscribe, "zkminer/1.0", nil, nil)
	if err := enc.Encode(req); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	resp := NewResponse(1, ArrayResult(NullValue(), StrValue("extranonce1"), U64Value(4)))
	if err := enc.Encode(resp); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	dec := NewDecoder(&buf)

	got, err := dec.Decode()
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !got.IsRequest() || got.Method != MethodSubscribe {
		t.Fatalf("Decode() got = %+v, want subscribe request", got)
	}
	if len(got.Params) != 3 {
		t.Fatalf("Params len = %d, want 3", len(got.Params))
	}

	got2, err := dec.Decode()
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got2.IsRequest() {
		t.Fatalf("Decode() got a request, want a response")
	}
	if got2.Result == nil || got2.Result.Kind != ResponseArray {
		t.Fatalf("Result = %+v, want array", got2.Result)
	}
	if len(got2.Result.Array) != 3 || got2.Result.Array[1].Str != "extranonce1" {
		t.Fatalf("Result.Array = %+v", got2.Result.Array)
	}

	if _, err := dec.Decode(); err != io.EOF {
		t.Fatalf("final Decode() error = %v, want io.EOF", err)
	}
}

func TestDecodeRejectsOversizedFrame(t *testing.T) {
	huge := strings.Repeat("a", MaxFrameSize+100)
	dec := NewDecoder(strings.NewReader(huge + "\n"))
	if _, err := dec.Decode(); err != ErrFrameTooLarge {
		t.Fatalf("Decode() error = %v, want ErrFrameTooLarge", err)
	}
}

func TestDecodeRejectsBadParamCount(t *testing.T) {
	dec := NewDecoder(strings.NewReader(`{"id":1,"method":"mining.authorize","params":["addr1"]}` + "\n"))
	if _, err := dec.Decode(); err == nil {
		t.Fatal("expected arity error, got nil")
	}
}

func TestBoolResultRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	if err := enc.Encode(NewResponse(2, BoolResult(true))); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	dec := NewDecoder(&buf)
	msg, err := dec.Decode()
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if msg.Result == nil || msg.Result.Kind != ResponseBool || !msg.Result.Bool {
		t.Fatalf("Result = %+v, want true bool", msg.Result)
	}
}

func TestNullResultRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	if err := enc.Encode(NewResponse(3, NullResult())); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	dec := NewDecoder(&buf)
	msg, err := dec.Decode()
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if msg.Result == nil || msg.Result.Kind != ResponseNull {
		t.Fatalf("Result = %+v, want null", msg.Result)
	}
}
