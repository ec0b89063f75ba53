package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidParams marks a payload or parameter object that cannot be decoded.
var ErrInvalidParams = errors.New("call: invalid parameters")

// Call is the payload carried by a ledger call. An empty payload denotes a
// plain value push.
type Call struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// EncodeCall marshals the method and parameters into a call payload.
func EncodeCall(method string, params interface{}) ([]byte, error) {
	method = strings.TrimSpace(method)
	if method == "" {
		return nil, fmt.Errorf("call: method required")
	}
	call := Call{Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("call: encode params: %w", err)
		}
		call.Params = raw
	}
	return json.Marshal(call)
}

// MustEncodeCall is EncodeCall for statically known parameters.
func MustEncodeCall(method string, params interface{}) []byte {
	payload, err := EncodeCall(method, params)
	if err != nil {
		panic(err)
	}
	return payload
}

// DecodeCall parses a payload. ok is false for an empty payload.
func DecodeCall(payload []byte) (call Call, ok bool, err error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return Call{}, false, nil
	}
	if err := json.Unmarshal(payload, &call); err != nil {
		return Call{}, false, fmt.Errorf("%w: decode payload: %w", ErrInvalidParams, err)
	}
	call.Method = strings.TrimSpace(call.Method)
	if call.Method == "" {
		return Call{}, false, fmt.Errorf("%w: method required", ErrInvalidParams)
	}
	return call, true, nil
}

// Bind decodes the call parameters into dst. A missing params object leaves
// dst untouched.
func (c Call) Bind(dst interface{}) error {
	if len(bytes.TrimSpace(c.Params)) == 0 {
		return nil
	}
	if err := json.Unmarshal(c.Params, dst); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidParams, c.Method, err)
	}
	return nil
}
