package store

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/roach88/weft/internal/ir"
)

// marshalFunctionIDs converts ids to canonical JSON TEXT for storage.
func marshalFunctionIDs(ids []ir.FunctionID) (string, error) {
	arr := make([]any, len(ids))
	for i, id := range ids {
		arr[i] = uint64(id)
	}
	data, err := ir.MarshalCanonical(arr)
	if err != nil {
		return "", fmt.Errorf("marshal function ids: %w", err)
	}
	return string(data), nil
}

// marshalHashes converts a function → hex hash map to canonical JSON TEXT.
// Keys are decimal function ids.
func marshalHashes(hashes map[ir.FunctionID]string) (string, error) {
	obj := make(map[string]any, len(hashes))
	for id, h := range hashes {
		obj[strconv.FormatUint(uint64(id), 10)] = h
	}
	data, err := ir.MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("marshal hashes: %w", err)
	}
	return string(data), nil
}

func unmarshalFunctionIDs(data string) ([]ir.FunctionID, error) {
	ids := []ir.FunctionID{}
	if data == "" || data == "[]" {
		return ids, nil
	}
	if err := json.Unmarshal([]byte(data), &ids); err != nil {
		return nil, fmt.Errorf("unmarshal function ids: %w", err)
	}
	return ids, nil
}

func unmarshalHashes(data string) (map[ir.FunctionID]string, error) {
	out := map[ir.FunctionID]string{}
	if data == "" || data == "{}" {
		return out, nil
	}
	var raw map[string]string
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return nil, fmt.Errorf("unmarshal hashes: %w", err)
	}
	for k, v := range raw {
		id, err := strconv.ParseUint(k, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("unmarshal hashes: bad function id %q", k)
		}
		out[ir.FunctionID(id)] = v
	}
	return out, nil
}
