// This file converts between reassembled message payloads and typed messages.
// Decoding is driven only by the message type id and never fails: short or
// malformed payloads degrade to Unknown, bad command arguments are truncated.

package rtmp

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"amsd/internal/core/protocol/amf0"
)

// Message is one typed RTMP message.
type Message interface {
	TypeID() byte
}

// UserControl is a user control event. StreamID is set for stream events,
// Timestamp carries the buffer length or ping time.
type UserControl struct {
	Event     uint16
	StreamID  uint32
	Timestamp uint32
}

// Command is an AMF encoded remote call.
type Command struct {
	Name          string
	TransactionID float64
	Args          amf0.Array
	AMF3          bool
}

// Audio carries one FLV audio tag body.
type Audio struct{ Payload []byte }

// Video carries one FLV video tag body.
type Video struct{ Payload []byte }

// Data carries an AMF data message body such as onMetaData.
type Data struct {
	Payload []byte
	AMF3    bool
}

type SetChunkSize struct{ Size uint32 }
type Abort struct{ ChunkStreamID uint32 }
type Ack struct{ BytesRead uint32 }
type WindowAckSize struct{ Size uint32 }

type PeerBandwidth struct {
	Size      uint32
	LimitType byte
}

// Unknown is any message that could not be typed.
type Unknown struct {
	Type    byte
	Payload []byte
}

func (UserControl) TypeID() byte   { return MessageTypeUserCtrl }
func (m Command) TypeID() byte     { return commandType(m.AMF3) }
func (Audio) TypeID() byte         { return MessageTypeAudio }
func (Video) TypeID() byte         { return MessageTypeVideo }
func (m Data) TypeID() byte        { return dataType(m.AMF3) }
func (SetChunkSize) TypeID() byte  { return MessageTypeSetChunkSize }
func (Abort) TypeID() byte         { return MessageTypeAbortMessage }
func (Ack) TypeID() byte           { return MessageTypeAck }
func (WindowAckSize) TypeID() byte { return MessageTypeWinAckSize }
func (PeerBandwidth) TypeID() byte { return MessageTypeSetPeerBandwidth }
func (m Unknown) TypeID() byte     { return m.Type }

func commandType(amf3 bool) byte {
	if amf3 {
		return MessageTypeCommandAMF3
	}
	return MessageTypeCommandAMF0
}

func dataType(amf3 bool) byte {
	if amf3 {
		return MessageTypeDataAMF3
	}
	return MessageTypeDataAMF0
}

// Param returns argument i, or nil when absent.
func (c Command) Param(i int) amf0.Value {
	if i < 0 || i >= len(c.Args) {
		return nil
	}
	return c.Args[i]
}

// CommandObject returns the first argument when it is an object.
func (c Command) CommandObject() amf0.Object {
	obj, _ := c.Param(0).(amf0.Object)
	return obj
}

// ParamString returns argument i as a string, or def.
func (c Command) ParamString(i int, def string) string {
	if s, ok := c.Param(i).(string); ok {
		return s
	}
	return def
}

// ParamInt returns argument i as an integer, or def.
func (c Command) ParamInt(i int, def int64) int64 {
	if n, ok := amf0.Number(c.Param(i)); ok {
		return int64(n)
	}
	return def
}

// ParamBool returns argument i as a bool, or def.
// Numbers are accepted, as some clients send 0/1.
func (c Command) ParamBool(i int, def bool) bool {
	switch v := c.Param(i).(type) {
	case bool:
		return v
	case float64:
		return v != 0
	}
	return def
}

// DecodeMessage types a complete message payload.
func DecodeMessage(typeID byte, payload []byte) Message {
	switch typeID {
	case MessageTypeSetChunkSize:
		if len(payload) < 4 {
			break
		}
		return SetChunkSize{Size: binary.BigEndian.Uint32(payload) & 0x7FFFFFFF}
	case MessageTypeAbortMessage:
		if len(payload) < 4 {
			break
		}
		return Abort{ChunkStreamID: binary.BigEndian.Uint32(payload)}
	case MessageTypeAck:
		if len(payload) < 4 {
			break
		}
		return Ack{BytesRead: binary.BigEndian.Uint32(payload)}
	case MessageTypeWinAckSize:
		if len(payload) < 4 {
			break
		}
		return WindowAckSize{Size: binary.BigEndian.Uint32(payload)}
	case MessageTypeSetPeerBandwidth:
		if len(payload) < 5 {
			break
		}
		return PeerBandwidth{Size: binary.BigEndian.Uint32(payload), LimitType: payload[4]}
	case MessageTypeUserCtrl:
		if uc, ok := decodeUserControl(payload); ok {
			return uc
		}
	case MessageTypeAudio:
		return Audio{Payload: payload}
	case MessageTypeVideo:
		return Video{Payload: payload}
	case MessageTypeDataAMF0:
		return Data{Payload: payload}
	case MessageTypeDataAMF3:
		return Data{Payload: payload, AMF3: true}
	case MessageTypeCommandAMF0, MessageTypeCommandAMF3:
		if cmd, ok := decodeCommand(typeID, payload); ok {
			return cmd
		}
	}
	return Unknown{Type: typeID, Payload: payload}
}

func decodeUserControl(payload []byte) (UserControl, bool) {
	if len(payload) < 2 {
		return UserControl{}, false
	}
	uc := UserControl{Event: binary.BigEndian.Uint16(payload)}
	body := payload[2:]
	switch uc.Event {
	case ControlStreamBegin, ControlStreamEOF, ControlStreamDry, ControlStreamIsRecorded:
		if len(body) < 4 {
			return uc, false
		}
		uc.StreamID = binary.BigEndian.Uint32(body)
	case ControlSetBufferLength:
		if len(body) < 8 {
			return uc, false
		}
		uc.StreamID = binary.BigEndian.Uint32(body)
		uc.Timestamp = binary.BigEndian.Uint32(body[4:])
	case ControlPingRequest, ControlPingResponse:
		if len(body) < 4 {
			return uc, false
		}
		uc.Timestamp = binary.BigEndian.Uint32(body)
	default:
		uc.Event = ControlUnknown
	}
	return uc, true
}

// decodeCommand reads name and transaction id, then arguments until the
// payload is exhausted or a value fails to decode.
func decodeCommand(typeID byte, payload []byte) (Command, bool) {
	cmd := Command{AMF3: typeID == MessageTypeCommandAMF3}
	if cmd.AMF3 {
		if len(payload) < 1 {
			return cmd, false
		}
		payload = payload[1:]
	}
	r := bytes.NewReader(payload)
	name, err := amf0.DecodeString(r)
	if err != nil {
		return cmd, false
	}
	cmd.Name = name
	txn, err := amf0.Decode(r)
	if err != nil {
		return cmd, false
	}
	cmd.TransactionID, _ = amf0.Number(txn)
	// a failure mid-arguments keeps what was decoded
	cmd.Args, _ = amf0.DecodeCommand(r)
	return cmd, true
}

// EncodeMessage serializes a message payload.
func EncodeMessage(m Message) ([]byte, error) {
	switch v := m.(type) {
	case SetChunkSize:
		return binary.BigEndian.AppendUint32(nil, v.Size), nil
	case Abort:
		return binary.BigEndian.AppendUint32(nil, v.ChunkStreamID), nil
	case Ack:
		return binary.BigEndian.AppendUint32(nil, v.BytesRead), nil
	case WindowAckSize:
		return binary.BigEndian.AppendUint32(nil, v.Size), nil
	case PeerBandwidth:
		return append(binary.BigEndian.AppendUint32(nil, v.Size), v.LimitType), nil
	case UserControl:
		return encodeUserControl(v), nil
	case Command:
		var buf bytes.Buffer
		if v.AMF3 {
			buf.WriteByte(0)
		}
		values := append(amf0.Array{v.Name, v.TransactionID}, v.Args...)
		for _, val := range values {
			if err := amf0.Encode(&buf, val); err != nil {
				return nil, fmt.Errorf("encode command %s: %w", v.Name, err)
			}
		}
		return buf.Bytes(), nil
	case Audio:
		return v.Payload, nil
	case Video:
		return v.Payload, nil
	case Data:
		return v.Payload, nil
	case Unknown:
		return v.Payload, nil
	}
	return nil, fmt.Errorf("encode message: unsupported type %T", m)
}

func encodeUserControl(uc UserControl) []byte {
	body := binary.BigEndian.AppendUint16(nil, uc.Event)
	switch uc.Event {
	case ControlSetBufferLength:
		body = binary.BigEndian.AppendUint32(body, uc.StreamID)
		body = binary.BigEndian.AppendUint32(body, uc.Timestamp)
	case ControlPingRequest, ControlPingResponse:
		body = binary.BigEndian.AppendUint32(body, uc.Timestamp)
	default:
		body = binary.BigEndian.AppendUint32(body, uc.StreamID)
	}
	return body
}

// NewDataMessage encodes values as an AMF0 data message.
func NewDataMessage(values ...amf0.Value) (Data, error) {
	body, err := amf0.EncodeCommand(values)
	if err != nil {
		return Data{}, err
	}
	return Data{Payload: body}, nil
}

// DecodeData returns the AMF0 values of a data message.
func DecodeData(d Data) (amf0.Array, error) {
	payload := d.Payload
	if d.AMF3 && len(payload) > 0 && payload[0] == 0 {
		payload = payload[1:]
	}
	return amf0.DecodeCommand(bytes.NewReader(payload))
}
