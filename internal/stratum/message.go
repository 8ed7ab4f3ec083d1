// Package stratum implements the pool's line-delimited JSON-RPC wire
// protocol: subscribe, authorize, set_target, notify and submit messages
// framed one per line over a TCP connection.
package stratum

import "encoding/json"

// MaxFrameSize is the maximum size, in bytes, of a single wire frame
// including its trailing newline. Frames larger than this are a protocol
// violation and close the connection.
const MaxFrameSize = 4096

// Method names exchanged over the wire.
const (
	MethodSubscribe  = "mining.subscribe"
	MethodAuthorize  = "mining.authorize"
	MethodSetTarget  = "mining.set_target"
	MethodNotify     = "mining.notify"
	MethodSubmit     = "mining.submit"
)

// Message is a single stratum wire frame. A frame with a non-empty Method
// is a request or notification; one without is a response. This mirrors
// the JSON-RPC 2.0 shape the original protocol uses: responses are
// distinguished from requests purely by the absence of "method".
type Message struct {
	// JSONRPC is the decoded "jsonrpc" tag. Encode always writes "2.0"
	// regardless of this field's value; it only matters on a decoded
	// message.
	JSONRPC string
	ID      interface{}
	Method  string
	Params  []interface{}
	Result  *ResponseParams
	Error   interface{}
}

// IsRequest reports whether m carries a method and should be dispatched
// as a request/notification rather than read as a response.
func (m *Message) IsRequest() bool {
	return m.Method != ""
}

// messageWire is the exact on-the-wire shape of a Message: a literal
// "jsonrpc" tag per §6, and a raw "result" so a present-but-null result
// round-trips correctly. Routing Result through json.RawMessage and a
// second, explicit Unmarshal call sidesteps a encoding/json gotcha: a
// *ResponseParams struct field is set to nil on a literal JSON null
// without ever invoking its UnmarshalJSON, which would otherwise lose
// the null/bool/array tag on every response carrying a null result.
type messageWire struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method,omitempty"`
	Params  []interface{}   `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   interface{}     `json:"error,omitempty"`
}

// MarshalJSON emits the wire frame with a literal "jsonrpc":"2.0" tag
// and a "result" key only when Result is actually set: a request never
// carries one, while a response carrying a null result still needs the
// key present.
func (m *Message) MarshalJSON() ([]byte, error) {
	w := messageWire{
		JSONRPC: "2.0",
		ID:      m.ID,
		Method:  m.Method,
		Params:  m.Params,
		Error:   m.Error,
	}
	if m.Result != nil {
		raw, err := json.Marshal(*m.Result)
		if err != nil {
			return nil, err
		}
		w.Result = raw
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a wire frame, see messageWire for why Result is
// routed through an explicit second Unmarshal call.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w messageWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	m.JSONRPC = w.JSONRPC
	m.ID = w.ID
	m.Method = w.Method
	m.Params = w.Params
	m.Error = w.Error

	if w.Result == nil {
		m.Result = nil
		return nil
	}
	var rp ResponseParams
	if err := json.Unmarshal(w.Result, &rp); err != nil {
		return err
	}
	m.Result = &rp
	return nil
}

// ResponseParams is the tagged union a response's "result" field can hold:
// a bare boolean, an array of mixed null/string/uint64 values, or null.
// Custom marshaling keeps the wire shape exact without exposing the tag
// to callers, who switch on Kind.
type ResponseParams struct {
	Kind  ResponseKind
	Bool  bool
	Array []ResponseValue
}

// ResponseKind discriminates the ResponseParams union.
type ResponseKind int

const (
	ResponseNull ResponseKind = iota
	ResponseBool
	ResponseArray
)

// ResponseValue is one element of an array-typed response result. Exactly
// one of the fields is meaningful, selected by Kind.
type ResponseValue struct {
	Kind ResponseValueKind
	Str  string
	U64  uint64
}

// ResponseValueKind discriminates a ResponseValue.
type ResponseValueKind int

const (
	ValueNull ResponseValueKind = iota
	ValueString
	ValueUint64
)

// NullResult builds a null response result.
func NullResult() ResponseParams { return ResponseParams{Kind: ResponseNull} }

// BoolResult builds a boolean response result.
func BoolResult(b bool) ResponseParams { return ResponseParams{Kind: ResponseBool, Bool: b} }

// ArrayResult builds an array response result from mixed values.
func ArrayResult(vals ...ResponseValue) ResponseParams {
	return ResponseParams{Kind: ResponseArray, Array: vals}
}

// StrValue wraps a string array element.
func StrValue(s string) ResponseValue { return ResponseValue{Kind: ValueString, Str: s} }

// U64Value wraps a uint64 array element.
func U64Value(v uint64) ResponseValue { return ResponseValue{Kind: ValueUint64, U64: v} }

// NullValue is a null array element.
func NullValue() ResponseValue { return ResponseValue{Kind: ValueNull} }

func (r ResponseParams) MarshalJSON() ([]byte, error) {
	switch r.Kind {
	case ResponseBool:
		return json.Marshal(r.Bool)
	case ResponseArray:
		raw := make([]interface{}, len(r.Array))
		for i, v := range r.Array {
			switch v.Kind {
			case ValueString:
				raw[i] = v.Str
			case ValueUint64:
				raw[i] = v.U64
			default:
				raw[i] = nil
			}
		}
		return json.Marshal(raw)
	default:
		return []byte("null"), nil
	}
}

func (r *ResponseParams) UnmarshalJSON(data []byte) error {
	// A literal null would otherwise unmarshal into asBool without error.
	if isJSONNull(data) {
		*r = ResponseParams{Kind: ResponseNull}
		return nil
	}

	var asBool bool
	if err := json.Unmarshal(data, &asBool); err == nil {
		*r = ResponseParams{Kind: ResponseBool, Bool: asBool}
		return nil
	}

	var asArray []json.RawMessage
	if err := json.Unmarshal(data, &asArray); err == nil {
		vals := make([]ResponseValue, 0, len(asArray))
		for _, elem := range asArray {
			if isJSONNull(elem) {
				vals = append(vals, NullValue())
				continue
			}
			var asStr string
			if err := json.Unmarshal(elem, &asStr); err == nil {
				vals = append(vals, StrValue(asStr))
				continue
			}
			var asNum uint64
			if err := json.Unmarshal(elem, &asNum); err == nil {
				vals = append(vals, U64Value(asNum))
				continue
			}
			var asNull interface{}
			if err := json.Unmarshal(elem, &asNull); err == nil && asNull == nil {
				vals = append(vals, NullValue())
				continue
			}
			// Anything else (object, nested array) is dropped rather than
			// failing the whole decode.
		}
		*r = ResponseParams{Kind: ResponseArray, Array: vals}
		return nil
	}

	*r = ResponseParams{Kind: ResponseNull}
	return nil
}

func isJSONNull(data []byte) bool {
	var v interface{}
	return json.Unmarshal(data, &v) == nil && v == nil
}
