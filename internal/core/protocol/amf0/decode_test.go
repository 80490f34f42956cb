// This file tests AMF0 decoding of command sequences and composite values.

package amf0

import (
	"bytes"
	"errors"
	"io"
	"runtime"
	"testing"
	"testing/iotest"
)

func TestDecodeCommand_RoundTrip(t *testing.T) {
	in := Array{
		"play",
		float64(4),
		nil,
		"live",
		float64(-2),
		Object{"app": "vod", "objectEncoding": float64(0)},
		Array{float64(1), "two", true},
	}
	body, err := EncodeCommand(in)
	if err != nil {
		t.Fatalf("EncodeCommand failed: %v", err)
	}

	out, err := DecodeCommand(bytes.NewReader(body))
	if err != nil {
		t.Fatalf("DecodeCommand failed: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("Expected %d values, got %d", len(in), len(out))
	}
	if out[0] != "play" || out[1] != float64(4) || out[2] != nil || out[3] != "live" || out[4] != float64(-2) {
		t.Errorf("Unexpected scalar values: %v", out[:5])
	}
	obj, ok := out[5].(Object)
	if !ok {
		t.Fatalf("Expected Object, got %T", out[5])
	}
	if obj["app"] != "vod" {
		t.Errorf("Expected app 'vod', got %v", obj["app"])
	}
	arr, ok := out[6].(Array)
	if !ok || len(arr) != 3 || arr[2] != true {
		t.Errorf("Unexpected strict array: %#v", out[6])
	}
}

func TestDecodeCommand_TruncatesOnBadValue(t *testing.T) {
	body, _ := EncodeCommand(Array{"connect", float64(1)})
	body = append(body, 0x0D) // unsupported marker

	out, err := DecodeCommand(bytes.NewReader(body))
	if !errors.Is(err, ErrUnexpectedType) {
		t.Fatalf("Expected ErrUnexpectedType, got %v", err)
	}
	if len(out) != 2 || out[0] != "connect" {
		t.Errorf("Expected the two leading values to survive, got %v", out)
	}
}

func TestDecodeCommand_AMF3Switch(t *testing.T) {
	body, _ := EncodeCommand(Array{"onStatus", float64(0)})
	body = append(body, TypeAVMPlus, 0x01)

	out, err := DecodeCommand(bytes.NewReader(body))
	if !errors.Is(err, ErrAMF3Switch) {
		t.Fatalf("Expected ErrAMF3Switch, got %v", err)
	}
	if len(out) != 2 {
		t.Errorf("Expected 2 values, got %d", len(out))
	}
}

func TestDecode_ECMAArrayAsObject(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, ECMAArray{"width": float64(1280), "height": 720}); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if buf.Bytes()[0] != TypeECMAArray {
		t.Fatalf("Expected ECMA array marker, got 0x%02x", buf.Bytes()[0])
	}
	v, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	obj, ok := v.(Object)
	if !ok {
		t.Fatalf("Expected Object, got %T", v)
	}
	if obj["height"] != float64(720) {
		t.Errorf("Expected height 720, got %v", obj["height"])
	}
}

func TestDecode_LongString(t *testing.T) {
	long := string(bytes.Repeat([]byte("x"), 70000))
	var buf bytes.Buffer
	if err := Encode(&buf, long); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if buf.Bytes()[0] != TypeLongString {
		t.Fatalf("Expected long string marker, got 0x%02x", buf.Bytes()[0])
	}
	s, err := DecodeString(&buf)
	if err != nil {
		t.Fatalf("DecodeString failed: %v", err)
	}
	if len(s) != 70000 {
		t.Errorf("Expected 70000 bytes, got %d", len(s))
	}
}

// allocated returns the bytes allocated while running f.
func allocated(f func()) uint64 {
	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	f()
	runtime.ReadMemStats(&after)
	return after.TotalAlloc - before.TotalAlloc
}

func TestDecode_LongStringLengthBeyondInput(t *testing.T) {
	wire := []byte{TypeLongString, 0xFF, 0xFF, 0xFF, 0xFF, 'a', 'b'}

	var err error
	n := allocated(func() { _, err = Decode(bytes.NewReader(wire)) })
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("Expected ErrUnexpectedEOF, got %v", err)
	}
	if n > 1<<20 {
		t.Errorf("Expected no allocation for the declared length, got %d bytes", n)
	}

	// readers that cannot report their length grow with the bytes read
	n = allocated(func() { _, err = Decode(iotest.OneByteReader(bytes.NewReader(wire))) })
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("Expected ErrUnexpectedEOF, got %v", err)
	}
	if n > 1<<20 {
		t.Errorf("Expected no allocation for the declared length, got %d bytes", n)
	}
}

func TestDecodeCommand_TruncatesOnOversizedString(t *testing.T) {
	body, err := EncodeCommand(Array{"play", float64(3), nil})
	if err != nil {
		t.Fatalf("EncodeCommand failed: %v", err)
	}
	body = append(body, TypeLongString, 0x10, 0, 0, 0)

	out, _ := DecodeCommand(bytes.NewReader(body))
	if len(out) != 3 || out[0] != "play" {
		t.Errorf("Expected the three leading values, got %v", out)
	}
}
