// SPDX-License-Identifier: MPL-2.0

package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/invowk/cougar/pkg/fault"
	"github.com/invowk/cougar/pkg/operation"
)

// DecodeParams turns JSON-RPC params into positional arguments for def.
// Named params are placed by parameter name; absent ones are nil. Each
// value is decoded according to the declared parameter type.
func DecodeParams(def operation.Definition, raw json.RawMessage) ([]any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var values []json.RawMessage
	switch raw[0] {
	case '[':
		if err := json.Unmarshal(raw, &values); err != nil {
			return nil, fault.Wrap(fault.JSONDeserialisationParseFailure, err)
		}
		if len(values) > len(def.Parameters) && len(def.Parameters) > 0 {
			return nil, fault.Newf(fault.JSONDeserialisationParseFailure, "%s takes %d parameters, got %d", def.Key, len(def.Parameters), len(values))
		}
	case '{':
		var named map[string]json.RawMessage
		if err := json.Unmarshal(raw, &named); err != nil {
			return nil, fault.Wrap(fault.JSONDeserialisationParseFailure, err)
		}
		values = make([]json.RawMessage, len(def.Parameters))
		for name, v := range named {
			i := def.ParameterIndex(name)
			if i < 0 {
				return nil, fault.Newf(fault.JSONDeserialisationParseFailure, "%s has no parameter %q", def.Key, name)
			}
			values[i] = v
		}
	default:
		return nil, fault.New(fault.JSONDeserialisationParseFailure, "params must be an array or an object")
	}

	args := make([]any, len(values))
	for i, v := range values {
		typ := ""
		if i < len(def.Parameters) {
			typ = def.Parameters[i].Type
		}
		arg, err := decodeValue(v, typ)
		if err != nil {
			return nil, fault.Wrap(fault.ClassConversionFailure, fmt.Errorf("parameter %d: %w", i, err))
		}
		args[i] = arg
	}
	return args, nil
}

func decodeValue(raw json.RawMessage, typ string) (any, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	switch typ {
	case "string":
		return decodeAs[string](raw)
	case "int", "i32", "i64", "integer":
		return decodeAs[int](raw)
	case "float", "double", "number":
		return decodeAs[float64](raw)
	case "bool", "boolean":
		return decodeAs[bool](raw)
	case "list", "array":
		return decodeAs[[]any](raw)
	case "map", "object":
		return decodeAs[map[string]any](raw)
	default:
		return decodeAs[any](raw)
	}
}

func decodeAs[T any](raw json.RawMessage) (any, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}
