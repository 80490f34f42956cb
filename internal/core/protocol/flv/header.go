// This file implements the FLV file header.
// The header is written once at the start of a file or HTTP response.

package flv

import (
	"errors"
)

// ErrInvalidHeader is returned for data that does not start with an FLV header.
var ErrInvalidHeader = errors.New("invalid FLV header")

// Header represents an FLV file header.
type Header struct {
	HasAudio bool
	HasVideo bool
}

// Bytes returns the FLV header as a byte slice.
func (h *Header) Bytes() []byte {
	header := make([]byte, FLVHeaderSize)

	// Signature "FLV" (3 bytes)
	copy(header[0:3], FLVSignature)

	// Version (1 byte)
	header[3] = FLVVersion

	// Flags (1 byte): audio and video flags
	flags := byte(0)
	if h.HasAudio {
		flags |= 0x04
	}
	if h.HasVideo {
		flags |= 0x01
	}
	header[4] = flags

	// Data offset (4 bytes, big-endian): the header length. The first
	// PreviousTagSize field starts here.
	offset := uint32(FLVHeaderSize)
	header[5] = byte(offset >> 24)
	header[6] = byte(offset >> 16)
	header[7] = byte(offset >> 8)
	header[8] = byte(offset)

	return header
}

// NewHeader creates a new FLV header with specified audio/video flags.
func NewHeader(hasAudio, hasVideo bool) *Header {
	return &Header{
		HasAudio: hasAudio,
		HasVideo: hasVideo,
	}
}

// ParseHeader decodes a 9-byte FLV header and returns it with the offset
// of the first previous-tag-size field.
func ParseHeader(b []byte) (*Header, uint32, error) {
	if len(b) < FLVHeaderSize || string(b[0:3]) != FLVSignature {
		return nil, 0, ErrInvalidHeader
	}
	offset := uint32(b[5])<<24 | uint32(b[6])<<16 | uint32(b[7])<<8 | uint32(b[8])
	if offset < FLVHeaderSize {
		return nil, 0, ErrInvalidHeader
	}
	return &Header{HasAudio: b[4]&0x04 != 0, HasVideo: b[4]&0x01 != 0}, offset, nil
}
