// This file tests chunk header encoding, reassembly and fragmentation.

package rtmp

import (
	"bytes"
	"errors"
	"runtime"
	"testing"
)

type decoded struct {
	header  Header
	payload []byte
}

// decodeAll feeds data to the reader in steps of at most step bytes, the
// way a transport delivers partial reads, and collects complete messages.
func decodeAll(t *testing.T, r *ChunkReader, data []byte, step int) []decoded {
	t.Helper()
	var (
		out []decoded
		buf []byte
	)
	for len(data) > 0 || len(buf) > 0 {
		n := min(step, len(data))
		buf = append(buf, data[:n]...)
		data = data[n:]
		for {
			res, err := r.Decode(buf)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if res.Status == NeedMoreData {
				if res.Consumed != 0 {
					t.Fatalf("NeedMoreData consumed %d bytes", res.Consumed)
				}
				break
			}
			buf = buf[res.Consumed:]
			if res.Status == MessageComplete {
				out = append(out, decoded{header: res.Header, payload: res.Payload})
			}
		}
		if n == 0 && len(buf) > 0 {
			t.Fatalf("%d undecodable bytes left over", len(buf))
		}
	}
	return out
}

func payloadOf(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i * 7)
	}
	return p
}

func TestChunkRoundTrip_PayloadSizes(t *testing.T) {
	const c = DefaultChunkSize
	for _, size := range []int{0, 1, c - 1, c, c + 1, 10*c + 7} {
		w := NewChunkWriter()
		h := Header{ChunkStreamID: 4, Timestamp: 40, TypeID: MessageTypeAudio, StreamID: 1}
		data, err := w.Append(nil, h, payloadOf(size))
		if err != nil {
			t.Fatalf("size %d: Append failed: %v", size, err)
		}
		for _, step := range []int{1, 7, len(data) + 1} {
			msgs := decodeAll(t, NewChunkReader(), data, step)
			if len(msgs) != 1 {
				t.Fatalf("size %d step %d: expected 1 message, got %d", size, step, len(msgs))
			}
			if !bytes.Equal(msgs[0].payload, payloadOf(size)) {
				t.Errorf("size %d step %d: payload mismatch", size, step)
			}
			if msgs[0].header.Length != uint32(size) || msgs[0].header.Timestamp != 40 {
				t.Errorf("size %d: unexpected header %+v", size, msgs[0].header)
			}
		}
	}
}

func TestChunkRoundTrip_HeaderFields(t *testing.T) {
	basicLen := map[uint32]int{2: 1, 63: 1, 64: 2, 319: 2, 320: 3, 65599: 3}
	for _, csid := range []uint32{2, 63, 64, 319, 320, 65599} {
		for _, ts := range []uint32{0, 0xFFFFFE, 0xFFFFFF, 0x1000000} {
			h := Header{ChunkStreamID: csid, Timestamp: ts, TypeID: MessageTypeVideo, StreamID: 0x01020304}
			data, err := NewChunkWriter().Append(nil, h, payloadOf(300))
			if err != nil {
				t.Fatalf("csid %d ts %d: Append failed: %v", csid, ts, err)
			}
			msgs := decodeAll(t, NewChunkReader(), data, 64)
			if len(msgs) != 1 {
				t.Fatalf("csid %d ts %d: expected 1 message, got %d", csid, ts, len(msgs))
			}
			got := msgs[0].header
			h.Length = 300
			if got != h {
				t.Errorf("csid %d ts %d: expected %+v, got %+v", csid, ts, h, got)
			}

			// the first chunk's basic header length depends only on csid
			headerLen := basicLen[csid] + 11
			if ts >= 0xFFFFFF {
				headerLen += 4
			}
			if len(data) < headerLen+DefaultChunkSize {
				t.Fatalf("csid %d: encoding too short", csid)
			}
		}
	}
}

func TestChunkWriter_ThreeByteIDLittleEndian(t *testing.T) {
	data, err := NewChunkWriter().Append(nil, Header{ChunkStreamID: 320 + 64}, nil)
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	// 384-64 = 320 = 0x0140, low byte first
	if data[0] != 1 || data[1] != 0x40 || data[2] != 0x01 {
		t.Errorf("Expected basic header 01 40 01, got % x", data[:3])
	}
}

func TestChunkWriter_RejectsUnencodableIDs(t *testing.T) {
	for _, csid := range []uint32{0, 1, 65600} {
		_, err := NewChunkWriter().Append(nil, Header{ChunkStreamID: csid}, []byte{1})
		if !errors.Is(err, ErrChunkStreamIDRange) {
			t.Errorf("csid %d: expected ErrChunkStreamIDRange, got %v", csid, err)
		}
	}
}

func TestChunkReader_DeltaHeadersAreAbsolute(t *testing.T) {
	var data []byte
	// fmt0: csid 4, ts 1000, len 2, audio, stream 1
	data = append(data, 0x04, 0x00, 0x03, 0xE8, 0x00, 0x00, 0x02, MessageTypeAudio, 1, 0, 0, 0, 0xAF, 0x01)
	// fmt2: delta 20
	data = append(data, 0x84, 0x00, 0x00, 0x14, 0xAF, 0x02)
	// fmt3 starting a new message reuses the delta
	data = append(data, 0xC4, 0xAF, 0x03)
	// fmt1: delta 5, len 3, video
	data = append(data, 0x44, 0x00, 0x00, 0x05, 0x00, 0x00, 0x03, MessageTypeVideo, 0x17, 0x01, 0x00)

	msgs := decodeAll(t, NewChunkReader(), data, len(data))
	if len(msgs) != 4 {
		t.Fatalf("Expected 4 messages, got %d", len(msgs))
	}
	wantTS := []uint32{1000, 1020, 1040, 1045}
	for i, m := range msgs {
		if m.header.Timestamp != wantTS[i] {
			t.Errorf("message %d: expected timestamp %d, got %d", i, wantTS[i], m.header.Timestamp)
		}
		if m.header.StreamID != 1 {
			t.Errorf("message %d: expected stream id 1, got %d", i, m.header.StreamID)
		}
	}
	if msgs[3].header.TypeID != MessageTypeVideo || msgs[3].header.Length != 3 {
		t.Errorf("Unexpected fmt1 header: %+v", msgs[3].header)
	}
}

func TestChunkReader_NeedMoreDataKeepsState(t *testing.T) {
	data, _ := NewChunkWriter().Append(nil, Header{ChunkStreamID: 3, TypeID: MessageTypeCommandAMF0}, payloadOf(200))
	r := NewChunkReader()

	res, err := r.Decode(data[:DefaultChunkSize])
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if res.Status != NeedMoreData || res.Consumed != 0 {
		t.Fatalf("Expected NeedMoreData with nothing consumed, got %v/%d", res.Status, res.Consumed)
	}
	if r.InFlight() != 0 {
		t.Fatalf("Expected no in-flight state, got %d", r.InFlight())
	}

	res, _ = r.Decode(data)
	if res.Status != MessageFilling {
		t.Fatalf("Expected MessageFilling, got %v", res.Status)
	}
	st, ok := r.Pending(3)
	if !ok || st.BytesRemaining() != 200-DefaultChunkSize {
		t.Fatalf("Expected %d bytes remaining, got %+v", 200-DefaultChunkSize, st)
	}

	res, _ = r.Decode(data[res.Consumed:])
	if res.Status != MessageComplete {
		t.Fatalf("Expected MessageComplete, got %v", res.Status)
	}
	if _, ok := r.Pending(3); ok {
		t.Error("Expected accumulator to be removed on completion")
	}
}

func TestChunkReader_ChunkSizeNotRetroactive(t *testing.T) {
	w := NewChunkWriter()
	big, _ := w.Append(nil, Header{ChunkStreamID: 4, TypeID: MessageTypeAudio, StreamID: 1}, payloadOf(300))
	// first chunk only: 12 byte header + 128 bytes
	first := big[:12+DefaultChunkSize]

	setSize, _ := w.Append(nil, Header{ChunkStreamID: 2, TypeID: MessageTypeSetChunkSize}, []byte{0, 0, 0, 200})

	// the remaining 172 bytes arrive as one continuation chunk
	rest := append([]byte{0xC4}, payloadOf(300)[DefaultChunkSize:]...)

	r := NewChunkReader()
	var stream []byte
	stream = append(stream, first...)
	stream = append(stream, setSize...)
	stream = append(stream, rest...)

	var msgs []decoded
	for len(stream) > 0 {
		res, err := r.Decode(stream)
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if res.Status == NeedMoreData {
			t.Fatalf("Unexpected NeedMoreData with %d bytes left", len(stream))
		}
		stream = stream[res.Consumed:]
		if res.Status == MessageComplete {
			msgs = append(msgs, decoded{res.Header, res.Payload})
			if res.Header.TypeID == MessageTypeSetChunkSize {
				m := DecodeMessage(res.Header.TypeID, res.Payload).(SetChunkSize)
				if err := r.SetChunkSize(m.Size); err != nil {
					t.Fatalf("SetChunkSize failed: %v", err)
				}
			}
		}
	}
	if len(msgs) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(msgs))
	}
	if !bytes.Equal(msgs[1].payload, payloadOf(300)) {
		t.Error("Audio payload corrupted across chunk size change")
	}
}

func TestChunkReader_AbortDiscardsPartial(t *testing.T) {
	data, _ := NewChunkWriter().Append(nil, Header{ChunkStreamID: 5, TypeID: MessageTypeVideo}, payloadOf(300))
	r := NewChunkReader()
	res, _ := r.Decode(data)
	if res.Status != MessageFilling {
		t.Fatalf("Expected MessageFilling, got %v", res.Status)
	}
	r.Abort(5)
	if r.InFlight() != 0 {
		t.Errorf("Expected abort to clear in-flight state, got %d", r.InFlight())
	}
}

func TestChunkReader_FullHeaderResetsPartial(t *testing.T) {
	w := NewChunkWriter()
	partial, _ := w.Append(nil, Header{ChunkStreamID: 6, TypeID: MessageTypeDataAMF0}, payloadOf(300))
	whole, _ := w.Append(nil, Header{ChunkStreamID: 6, TypeID: MessageTypeDataAMF0, Timestamp: 9}, payloadOf(10))

	r := NewChunkReader()
	stream := append(append([]byte{}, partial[:12+DefaultChunkSize]...), whole...)
	msgs := decodeAll(t, r, stream, len(stream))
	if len(msgs) != 1 || msgs[0].header.Length != 10 || msgs[0].header.Timestamp != 9 {
		t.Fatalf("Expected only the second message, got %+v", msgs)
	}
}

func TestChunkReader_RejectsCompressedHeaderWithoutHistory(t *testing.T) {
	_, err := NewChunkReader().Decode([]byte{0xC3})
	if !errors.Is(err, ErrInvalidChunkHeader) {
		t.Errorf("Expected ErrInvalidChunkHeader, got %v", err)
	}
}

func TestChunkReader_DeclaredLengthNotPreallocated(t *testing.T) {
	// first chunks of 60 messages that each claim the maximum length
	var stream []byte
	for csid := byte(3); csid < 63; csid++ {
		stream = append(stream, csid, 0, 0, 0, 0xFF, 0xFF, 0xFF, MessageTypeVideo, 1, 0, 0, 0)
		stream = append(stream, payloadOf(DefaultChunkSize)...)
	}

	r := NewChunkReader()
	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	for len(stream) > 0 {
		res, err := r.Decode(stream)
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if res.Status != MessageFilling {
			t.Fatalf("Expected MessageFilling, got %v", res.Status)
		}
		stream = stream[res.Consumed:]
	}
	runtime.ReadMemStats(&after)

	if r.InFlight() != 60 {
		t.Errorf("Expected 60 messages in flight, got %d", r.InFlight())
	}
	if n := after.TotalAlloc - before.TotalAlloc; n > 4<<20 {
		t.Errorf("Expected allocation to follow received bytes, got %d bytes", n)
	}
}
