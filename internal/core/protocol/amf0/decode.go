// This file implements AMF0 decoding for RTMP command and data messages.

package amf0

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

var (
	ErrUnexpectedType = errors.New("unexpected AMF0 type")
	ErrInvalidData    = errors.New("invalid AMF0 data")
	// ErrAMF3Switch is returned when the stream switches to AMF3 encoding.
	ErrAMF3Switch = errors.New("AMF3 value switch")
)

// Decode reads and decodes a single AMF0 value from the reader.
func Decode(r io.Reader) (Value, error) {
	var typeMarker byte
	if err := binary.Read(r, binary.BigEndian, &typeMarker); err != nil {
		return nil, err
	}

	switch typeMarker {
	case TypeNumber:
		return decodeNumber(r)
	case TypeBoolean:
		return decodeBoolean(r)
	case TypeString:
		return decodeString(r)
	case TypeLongString:
		return decodeLongString(r)
	case TypeNull, TypeUndefined:
		return nil, nil
	case TypeObject:
		return decodeObject(r)
	case TypeTypedObject:
		if _, err := decodeString(r); err != nil {
			return nil, err
		}
		return decodeObject(r)
	case TypeECMAArray:
		return decodeECMAArray(r)
	case TypeStrictArray:
		return decodeStrictArray(r)
	case TypeDate:
		return decodeDate(r)
	case TypeXMLDocument:
		return decodeLongString(r)
	case TypeAVMPlus:
		return nil, ErrAMF3Switch
	default:
		return nil, ErrUnexpectedType
	}
}

// DecodeString reads an AMF0 string value.
func DecodeString(r io.Reader) (string, error) {
	var typeMarker byte
	if err := binary.Read(r, binary.BigEndian, &typeMarker); err != nil {
		return "", err
	}
	switch typeMarker {
	case TypeString:
		return decodeString(r)
	case TypeLongString:
		return decodeLongString(r)
	}
	return "", ErrUnexpectedType
}

func decodeNumber(r io.Reader) (float64, error) {
	var num float64
	err := binary.Read(r, binary.BigEndian, &num)
	return num, err
}

func decodeBoolean(r io.Reader) (bool, error) {
	var b byte
	if err := binary.Read(r, binary.BigEndian, &b); err != nil {
		return false, err
	}
	return b != 0, nil
}

func decodeString(r io.Reader) (string, error) {
	var length uint16
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return "", err
	}
	return readUTF8(r, uint32(length))
}

func decodeLongString(r io.Reader) (string, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return "", err
	}
	return readUTF8(r, length)
}

func readUTF8(r io.Reader, n uint32) (string, error) {
	if n == 0 {
		return "", nil
	}
	// n comes off the wire; never allocate more than the input holds
	if br, ok := r.(*bytes.Reader); ok {
		if int64(n) > int64(br.Len()) {
			return "", io.ErrUnexpectedEOF
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(br, buf); err != nil {
			return "", err
		}
		return string(buf), nil
	}
	var buf bytes.Buffer
	if _, err := io.CopyN(&buf, r, int64(n)); err != nil {
		if errors.Is(err, io.EOF) {
			return "", io.ErrUnexpectedEOF
		}
		return "", err
	}
	return buf.String(), nil
}

// decodeObject reads key/value pairs up to the object end marker.
func decodeObject(r io.Reader) (Object, error) {
	obj := make(Object)
	for {
		key, err := decodeString(r)
		if err != nil {
			return nil, err
		}
		if key == "" {
			var endMarker byte
			if err := binary.Read(r, binary.BigEndian, &endMarker); err != nil {
				return nil, err
			}
			if endMarker != TypeObjectEnd {
				return nil, ErrInvalidData
			}
			return obj, nil
		}
		value, err := Decode(r)
		if err != nil {
			return nil, err
		}
		obj[key] = value
	}
}

// ECMA arrays are decoded as objects; the count is advisory.
func decodeECMAArray(r io.Reader) (Object, error) {
	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, err
	}
	return decodeObject(r)
}

func decodeStrictArray(r io.Reader) (Array, error) {
	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, err
	}
	arr := make(Array, 0, min(count, 64))
	for i := uint32(0); i < count; i++ {
		v, err := Decode(r)
		if err != nil {
			return nil, err
		}
		arr = append(arr, v)
	}
	return arr, nil
}

// decodeDate returns milliseconds since the epoch; the timezone is ignored.
func decodeDate(r io.Reader) (float64, error) {
	ms, err := decodeNumber(r)
	if err != nil {
		return 0, err
	}
	var tz int16
	if err := binary.Read(r, binary.BigEndian, &tz); err != nil {
		return 0, err
	}
	return ms, nil
}

// DecodeCommand decodes every value of a command or data body until the
// reader is exhausted. On a decode failure the values read so far are
// returned together with the error, so callers can keep a truncated list.
func DecodeCommand(r io.Reader) (Array, error) {
	arr := make(Array, 0, 4)
	for {
		v, err := Decode(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return arr, nil
			}
			return arr, err
		}
		arr = append(arr, v)
	}
}
