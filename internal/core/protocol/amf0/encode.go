// This file implements AMF0 encoding for RTMP command, status and data messages.

package amf0

import (
	"bytes"
	"encoding/binary"
	"io"
	"sort"
)

// Encode writes an AMF0 value to the writer.
// Integer types are widened to AMF0 numbers. Unsupported types encode as null.
func Encode(w io.Writer, val Value) error {
	switch v := val.(type) {
	case float64:
		return encodeNumber(w, v)
	case int:
		return encodeNumber(w, float64(v))
	case int32:
		return encodeNumber(w, float64(v))
	case int64:
		return encodeNumber(w, float64(v))
	case uint32:
		return encodeNumber(w, float64(v))
	case bool:
		return encodeBoolean(w, v)
	case string:
		return encodeString(w, v)
	case nil:
		return encodeNull(w)
	case Object:
		return encodeObject(w, TypeObject, v)
	case map[string]Value:
		return encodeObject(w, TypeObject, v)
	case ECMAArray:
		return encodeObject(w, TypeECMAArray, v)
	case Array:
		return encodeArray(w, v)
	default:
		return encodeNull(w)
	}
}

func encodeNumber(w io.Writer, num float64) error {
	if err := binary.Write(w, binary.BigEndian, byte(TypeNumber)); err != nil {
		return err
	}
	return binary.Write(w, binary.BigEndian, num)
}

func encodeBoolean(w io.Writer, b bool) error {
	var val byte
	if b {
		val = 1
	}
	_, err := w.Write([]byte{TypeBoolean, val})
	return err
}

// encodeString switches to the long string marker above 65535 bytes.
func encodeString(w io.Writer, s string) error {
	if len(s) > 0xFFFF {
		if err := binary.Write(w, binary.BigEndian, byte(TypeLongString)); err != nil {
			return err
		}
		if err := binary.Write(w, binary.BigEndian, uint32(len(s))); err != nil {
			return err
		}
		_, err := io.WriteString(w, s)
		return err
	}
	if err := binary.Write(w, binary.BigEndian, byte(TypeString)); err != nil {
		return err
	}
	return writeKey(w, s)
}

func writeKey(w io.Writer, s string) error {
	if err := binary.Write(w, binary.BigEndian, uint16(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func encodeNull(w io.Writer) error {
	return binary.Write(w, binary.BigEndian, byte(TypeNull))
}

// encodeObject writes keys in sorted order so encoded bodies are stable.
func encodeObject(w io.Writer, marker byte, obj map[string]Value) error {
	if err := binary.Write(w, binary.BigEndian, marker); err != nil {
		return err
	}
	if marker == TypeECMAArray {
		if err := binary.Write(w, binary.BigEndian, uint32(len(obj))); err != nil {
			return err
		}
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err := writeKey(w, key); err != nil {
			return err
		}
		if err := Encode(w, obj[key]); err != nil {
			return err
		}
	}
	if err := binary.Write(w, binary.BigEndian, uint16(0)); err != nil {
		return err
	}
	return binary.Write(w, binary.BigEndian, byte(TypeObjectEnd))
}

func encodeArray(w io.Writer, arr Array) error {
	if err := binary.Write(w, binary.BigEndian, byte(TypeStrictArray)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(arr))); err != nil {
		return err
	}
	for _, val := range arr {
		if err := Encode(w, val); err != nil {
			return err
		}
	}
	return nil
}

// EncodeCommand encodes values back to back, the layout of RTMP command
// and data message bodies. The sequence is not wrapped in an array.
func EncodeCommand(arr Array) ([]byte, error) {
	var buf bytes.Buffer
	for _, val := range arr {
		if err := Encode(&buf, val); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
