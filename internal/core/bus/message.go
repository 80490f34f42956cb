// This file defines MediaMessage, the unit of media flowing from publishers
// and file readers to subscribers, and its codec inspection helpers.

package bus

// MessageType represents the type of media message.
type MessageType uint8

const (
	// MessageTypeAudio represents an audio frame.
	MessageTypeAudio MessageType = iota
	// MessageTypeVideo represents a video frame.
	MessageTypeVideo
	// MessageTypeMetadata represents metadata or script data.
	MessageTypeMetadata
)

// FLV codec fields inspected by the relay.
const (
	videoFrameKeyframe = 1
	videoCodecAVC      = 7
	videoCodecHEVC     = 12
	audioFormatAAC     = 10
	packetTypeHeader   = 0
)

// MediaMessage represents a unit of media flowing through the bus.
// Payload is an FLV tag body and is shared read-only between all receivers.
type MediaMessage struct {
	Type      MessageType // Type of media (audio, video, metadata)
	Timestamp uint32      // Media timestamp in milliseconds
	Payload   []byte
}

// NewMessage creates a message. The payload is not copied.
func NewMessage(t MessageType, timestamp uint32, payload []byte) *MediaMessage {
	return &MediaMessage{Type: t, Timestamp: timestamp, Payload: payload}
}

// Clone creates a deep copy of the message.
func (m *MediaMessage) Clone() *MediaMessage {
	clone := &MediaMessage{Type: m.Type, Timestamp: m.Timestamp}
	if len(m.Payload) > 0 {
		clone.Payload = append([]byte(nil), m.Payload...)
	}
	return clone
}

// IsVideoKeyframe reports whether the message is a video keyframe.
// In FLV the upper nibble of the first byte is the frame type (1=keyframe).
func (m *MediaMessage) IsVideoKeyframe() bool {
	return m.Type == MessageTypeVideo && len(m.Payload) >= 1 && m.Payload[0]>>4 == videoFrameKeyframe
}

// IsVideoHeader reports whether the message is an AVC or HEVC decoder
// configuration record.
func (m *MediaMessage) IsVideoHeader() bool {
	if !m.IsVideoKeyframe() || len(m.Payload) < 2 {
		return false
	}
	codec := m.Payload[0] & 0x0F
	return (codec == videoCodecAVC || codec == videoCodecHEVC) && m.Payload[1] == packetTypeHeader
}

// IsAudioHeader reports whether the message is an AAC sequence header.
func (m *MediaMessage) IsAudioHeader() bool {
	return m.Type == MessageTypeAudio && len(m.Payload) >= 2 &&
		m.Payload[0]>>4 == audioFormatAAC && m.Payload[1] == packetTypeHeader
}

// IsMetadata reports whether the message carries script data.
func (m *MediaMessage) IsMetadata() bool {
	return m.Type == MessageTypeMetadata
}

// String returns a human-readable representation of the message type.
func (t MessageType) String() string {
	switch t {
	case MessageTypeAudio:
		return "audio"
	case MessageTypeVideo:
		return "video"
	case MessageTypeMetadata:
		return "metadata"
	default:
		return "unknown"
	}
}
