// This file defines AMF0 type markers and the Go types values decode into.

package amf0

// AMF0 type markers
const (
	TypeNumber      = 0
	TypeBoolean     = 1
	TypeString      = 2
	TypeObject      = 3
	TypeNull        = 5
	TypeUndefined   = 6
	TypeReference   = 7
	TypeECMAArray   = 8
	TypeObjectEnd   = 9
	TypeStrictArray = 10
	TypeDate        = 11
	TypeLongString  = 12
	TypeXMLDocument = 15
	TypeTypedObject = 16
	TypeAVMPlus     = 17 // switch to AMF3
)

// Value represents a decoded AMF0 value.
// Numbers decode to float64, strings to string, booleans to bool,
// null and undefined to nil.
type Value interface{}

// Object represents an AMF0 object (key-value pairs).
type Object map[string]Value

// ECMAArray is an associative array. It decodes like an Object but is
// encoded with the ECMA array marker, as onMetaData expects.
type ECMAArray map[string]Value

// Array represents an AMF0 strict array.
type Array []Value

// Number converts a decoded numeric value to float64.
func Number(v Value) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint32:
		return float64(n), true
	}
	return 0, false
}
