// This file converts between bus media messages and FLV tags.
// Payloads pass through untouched in both directions.

package flv

import (
	"amsd/internal/core/bus"
)

// MuxMessage converts a bus MediaMessage to an FLV tag based on message type.
// Returns nil if message type is not supported.
func MuxMessage(msg *bus.MediaMessage) *Tag {
	if msg == nil {
		return nil
	}

	switch msg.Type {
	case bus.MessageTypeAudio:
		return NewTag(TagTypeAudio, msg.Timestamp, msg.Payload)
	case bus.MessageTypeVideo:
		return NewTag(TagTypeVideo, msg.Timestamp, msg.Payload)
	case bus.MessageTypeMetadata:
		return NewTag(TagTypeScript, msg.Timestamp, msg.Payload)
	default:
		return nil
	}
}

// DemuxTag converts a tag back to a bus message. Returns nil for tag types
// the bus does not carry.
func DemuxTag(tagType byte, timestamp uint32, data []byte) *bus.MediaMessage {
	switch tagType {
	case TagTypeAudio:
		return bus.NewMessage(bus.MessageTypeAudio, timestamp, data)
	case TagTypeVideo:
		return bus.NewMessage(bus.MessageTypeVideo, timestamp, data)
	case TagTypeScript:
		return bus.NewMessage(bus.MessageTypeMetadata, timestamp, data)
	}
	return nil
}

// StreamHeader returns the FLV header followed by the first previous tag
// size, the bytes a live stream or new file starts with.
func StreamHeader() []byte {
	h := NewHeader(true, true).Bytes()
	return append(h, 0, 0, 0, FirstPreviousTagSize)
}

// Timeline rebases live timestamps so a viewer joining mid-stream starts
// at zero. Codec headers and metadata are always stamped zero.
type Timeline struct {
	base    uint32
	started bool
}

// Tag muxes msg with its rebased timestamp. Returns nil if the message
// type is not supported.
func (tl *Timeline) Tag(msg *bus.MediaMessage) *Tag {
	tag := MuxMessage(msg)
	if tag == nil {
		return nil
	}
	if msg.IsVideoHeader() || msg.IsAudioHeader() || msg.IsMetadata() {
		tag.Timestamp = 0
		return tag
	}
	if !tl.started {
		tl.base = msg.Timestamp
		tl.started = true
	}
	if msg.Timestamp < tl.base {
		tag.Timestamp = 0
	} else {
		tag.Timestamp = msg.Timestamp - tl.base
	}
	return tag
}
