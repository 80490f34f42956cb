// This file implements RTMP chunk framing: header decoding, message
// reassembly on the read side and fragmentation on the write side.
// Decoding works on buffered bytes and never blocks.

package rtmp

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrInvalidChunkHeader = errors.New("invalid chunk header")
	ErrChunkTooLarge      = errors.New("chunk size too large")
	ErrChunkStreamIDRange = errors.New("chunk stream id out of range")
)

// Header is the decoded header of one RTMP message.
// Timestamp is always absolute, whatever chunk format carried it.
type Header struct {
	ChunkStreamID uint32
	Timestamp     uint32
	Length        uint32
	TypeID        byte
	StreamID      uint32
}

// DecodeStatus is the outcome of one ChunkReader.Decode call.
type DecodeStatus int

const (
	// NeedMoreData means the buffer does not hold a whole chunk. Nothing was consumed.
	NeedMoreData DecodeStatus = iota
	// MessageFilling means a chunk was consumed but its message is incomplete.
	MessageFilling
	// MessageComplete means a chunk was consumed and completed a message.
	MessageComplete
)

func (s DecodeStatus) String() string {
	switch s {
	case NeedMoreData:
		return "need-more-data"
	case MessageFilling:
		return "filling"
	case MessageComplete:
		return "complete"
	}
	return "unknown"
}

// DecodeResult reports what one Decode call did.
type DecodeResult struct {
	Status   DecodeStatus
	Consumed int
	Header   Header
	// Payload is set only for MessageComplete.
	Payload []byte
}

// lastHeader is the header state a chunk stream id compresses against.
type lastHeader struct {
	header   Header
	delta    uint32
	extended bool
}

// ChunkStreamState is a message being reassembled on one chunk stream.
type ChunkStreamState struct {
	Header  Header
	payload []byte
}

// BytesRemaining is the number of payload bytes still expected.
func (s *ChunkStreamState) BytesRemaining() uint32 {
	return s.Header.Length - uint32(len(s.payload))
}

// ChunkReader reassembles messages from chunks. It is not safe for
// concurrent use; a session owns exactly one.
type ChunkReader struct {
	chunkSize uint32
	last      map[uint32]*lastHeader
	pending   map[uint32]*ChunkStreamState
}

// NewChunkReader creates a chunk reader using the default chunk size.
func NewChunkReader() *ChunkReader {
	return &ChunkReader{
		chunkSize: DefaultChunkSize,
		last:      make(map[uint32]*lastHeader),
		pending:   make(map[uint32]*ChunkStreamState),
	}
}

// ChunkSize returns the current read chunk size.
func (r *ChunkReader) ChunkSize() uint32 {
	return r.chunkSize
}

// SetChunkSize changes the read chunk size. It applies to chunks decoded
// after the call; bytes already consumed are not reinterpreted.
func (r *ChunkReader) SetChunkSize(size uint32) error {
	if size == 0 || size > MaxChunkSize {
		return fmt.Errorf("%w: %d", ErrChunkTooLarge, size)
	}
	r.chunkSize = size
	return nil
}

// Abort discards the partially received message on a chunk stream.
func (r *ChunkReader) Abort(csid uint32) {
	delete(r.pending, csid)
}

// Pending returns the in-flight reassembly state of a chunk stream.
func (r *ChunkReader) Pending(csid uint32) (*ChunkStreamState, bool) {
	s, ok := r.pending[csid]
	return s, ok
}

// InFlight returns the number of chunk streams with a partial message.
func (r *ChunkReader) InFlight() int {
	return len(r.pending)
}

// Decode consumes at most one chunk from b. When b does not contain the
// whole chunk it reports NeedMoreData and leaves all state untouched.
func (r *ChunkReader) Decode(b []byte) (DecodeResult, error) {
	need := DecodeResult{Status: NeedMoreData}
	if len(b) < 1 {
		return need, nil
	}
	format := b[0] >> 6
	csid := uint32(b[0] & 0x3F)
	pos := 1
	switch csid {
	case 0:
		if len(b) < 2 {
			return need, nil
		}
		csid = 64 + uint32(b[1])
		pos = 2
	case 1:
		if len(b) < 3 {
			return need, nil
		}
		csid = 64 + uint32(b[1]) + uint32(b[2])<<8
		pos = 3
	}

	prev := r.last[csid]
	if format != ChunkFmt0 && prev == nil {
		return DecodeResult{}, fmt.Errorf("%w: fmt %d on chunk stream %d without a previous header", ErrInvalidChunkHeader, format, csid)
	}

	var (
		h        Header
		tsField  uint32
		extended bool
	)
	if prev != nil {
		h = prev.header
		extended = prev.extended
	}
	h.ChunkStreamID = csid

	switch format {
	case ChunkFmt0:
		if len(b) < pos+11 {
			return need, nil
		}
		tsField = uint24(b[pos:])
		h.Length = uint24(b[pos+3:])
		h.TypeID = b[pos+6]
		h.StreamID = binary.LittleEndian.Uint32(b[pos+7:])
		pos += 11
	case ChunkFmt1:
		if len(b) < pos+7 {
			return need, nil
		}
		tsField = uint24(b[pos:])
		h.Length = uint24(b[pos+3:])
		h.TypeID = b[pos+6]
		pos += 7
	case ChunkFmt2:
		if len(b) < pos+3 {
			return need, nil
		}
		tsField = uint24(b[pos:])
		pos += 3
	}

	if format != ChunkFmt3 {
		extended = tsField == extendedTimestamp
	}
	if extended {
		if len(b) < pos+4 {
			return need, nil
		}
		if format != ChunkFmt3 {
			tsField = binary.BigEndian.Uint32(b[pos:])
		}
		pos += 4
	}

	st := r.pending[csid]
	continuation := format == ChunkFmt3 && st != nil
	delta := uint32(0)
	if prev != nil {
		delta = prev.delta
	}
	switch {
	case continuation:
		h = st.Header
	case format == ChunkFmt0:
		h.Timestamp = tsField
		delta = tsField
	case format == ChunkFmt3:
		h.Timestamp = prev.header.Timestamp + delta
	default:
		delta = tsField
		h.Timestamp = prev.header.Timestamp + delta
	}

	remaining := h.Length
	if continuation {
		remaining = st.BytesRemaining()
	}
	n := min(remaining, r.chunkSize)
	if len(b) < pos+int(n) {
		return need, nil
	}

	// The whole chunk is available; commit.
	r.last[csid] = &lastHeader{header: h, delta: delta, extended: extended}
	if !continuation {
		// a full header replaces any message left unfinished on this id
		// the declared length is untrusted; the buffer grows with the chunks
		st = &ChunkStreamState{Header: h, payload: make([]byte, 0, min(h.Length, r.chunkSize))}
		r.pending[csid] = st
	}
	st.payload = append(st.payload, b[pos:pos+int(n)]...)
	pos += int(n)

	if st.BytesRemaining() > 0 {
		return DecodeResult{Status: MessageFilling, Consumed: pos, Header: h}, nil
	}
	delete(r.pending, csid)
	return DecodeResult{Status: MessageComplete, Consumed: pos, Header: h, Payload: st.payload}, nil
}

// ChunkWriter fragments messages into chunks. Every message starts with a
// type 0 header; continuation chunks use type 3.
type ChunkWriter struct {
	chunkSize uint32
}

// NewChunkWriter creates a chunk writer using the default chunk size.
func NewChunkWriter() *ChunkWriter {
	return &ChunkWriter{chunkSize: DefaultChunkSize}
}

// ChunkSize returns the current write chunk size.
func (w *ChunkWriter) ChunkSize() uint32 {
	return w.chunkSize
}

// SetChunkSize changes the write chunk size for messages encoded afterwards.
func (w *ChunkWriter) SetChunkSize(size uint32) error {
	if size == 0 || size > MaxChunkSize {
		return fmt.Errorf("%w: %d", ErrChunkTooLarge, size)
	}
	w.chunkSize = size
	return nil
}

// Append encodes one message as chunks and appends them to dst.
func (w *ChunkWriter) Append(dst []byte, h Header, payload []byte) ([]byte, error) {
	if h.ChunkStreamID < 2 || h.ChunkStreamID > MaxChunkStreamID {
		return dst, fmt.Errorf("%w: %d", ErrChunkStreamIDRange, h.ChunkStreamID)
	}
	if len(payload) > MaxChunkSize {
		return dst, fmt.Errorf("%w: payload of %d bytes", ErrChunkTooLarge, len(payload))
	}
	extended := h.Timestamp >= extendedTimestamp

	dst = appendBasicHeader(dst, ChunkFmt0, h.ChunkStreamID)
	ts := h.Timestamp
	if extended {
		ts = extendedTimestamp
	}
	dst = appendUint24(dst, ts)
	dst = appendUint24(dst, uint32(len(payload)))
	dst = append(dst, h.TypeID)
	dst = binary.LittleEndian.AppendUint32(dst, h.StreamID)
	if extended {
		dst = binary.BigEndian.AppendUint32(dst, h.Timestamp)
	}

	offset := 0
	for {
		n := min(len(payload)-offset, int(w.chunkSize))
		dst = append(dst, payload[offset:offset+n]...)
		offset += n
		if offset >= len(payload) {
			return dst, nil
		}
		dst = appendBasicHeader(dst, ChunkFmt3, h.ChunkStreamID)
		if extended {
			dst = binary.BigEndian.AppendUint32(dst, h.Timestamp)
		}
	}
}

// appendBasicHeader writes the 1, 2 or 3 byte basic header.
// The 3 byte form carries csid-64 little-endian.
func appendBasicHeader(dst []byte, format byte, csid uint32) []byte {
	switch {
	case csid < 64:
		return append(dst, format<<6|byte(csid))
	case csid < 320:
		return append(dst, format<<6, byte(csid-64))
	default:
		id := csid - 64
		return append(dst, format<<6|1, byte(id), byte(id>>8))
	}
}

func uint24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

func appendUint24(dst []byte, v uint32) []byte {
	return append(dst, byte(v>>16), byte(v>>8), byte(v))
}
