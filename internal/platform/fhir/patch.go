package fhir

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// JSON Patch operation names (RFC 6902) understood by ApplyJSONPatch.
const (
	PatchOpAdd     = "add"
	PatchOpRemove  = "remove"
	PatchOpReplace = "replace"
	PatchOpTest    = "test"
)

// PatchOperation represents a single JSON Patch operation (RFC 6902).
type PatchOperation struct {
	Op    string      `json:"op"`
	Path  string      `json:"path"`
	Value interface{} `json:"value,omitempty"`
}

// Replace builds a "replace" operation.
func Replace(path string, value interface{}) PatchOperation {
	return PatchOperation{Op: PatchOpReplace, Path: path, Value: value}
}

// ValidatePatch checks that every operation names a known op and a path.
func ValidatePatch(ops []PatchOperation) error {
	if len(ops) == 0 {
		return fmt.Errorf("empty JSON Patch document")
	}
	for i, op := range ops {
		switch op.Op {
		case PatchOpAdd, PatchOpRemove, PatchOpReplace, PatchOpTest:
		case "":
			return fmt.Errorf("patch operation %d: missing 'op' field", i)
		default:
			return fmt.Errorf("patch operation %d: unsupported op %q", i, op.Op)
		}
		if !strings.HasPrefix(op.Path, "/") {
			return fmt.Errorf("patch operation %d: path %q must start with '/'", i, op.Path)
		}
	}
	return nil
}

// ParseJSONPatch parses and validates a JSON Patch document from raw JSON.
func ParseJSONPatch(data []byte) ([]PatchOperation, error) {
	var ops []PatchOperation
	if err := json.Unmarshal(data, &ops); err != nil {
		return nil, fmt.Errorf("invalid JSON Patch document: %w", err)
	}
	if err := ValidatePatch(ops); err != nil {
		return nil, err
	}
	return ops, nil
}

// ApplyJSONPatch applies ops to a generic JSON document and returns the
// patched copy. The input document is not modified.
func ApplyJSONPatch(doc map[string]interface{}, ops []PatchOperation) (map[string]interface{}, error) {
	if err := ValidatePatch(ops); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("copy document: %w", err)
	}
	var root interface{}
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, fmt.Errorf("copy document: %w", err)
	}

	for i, op := range ops {
		root, err = applyOne(root, op)
		if err != nil {
			return nil, fmt.Errorf("patch operation %d (%s) failed: %w", i, op.Op, err)
		}
	}

	out, ok := root.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("patched document is not an object")
	}
	return out, nil
}

func applyOne(node interface{}, op PatchOperation) (interface{}, error) {
	tokens := splitPointer(op.Path)
	return applyAt(node, tokens, op)
}

func applyAt(node interface{}, tokens []string, op PatchOperation) (interface{}, error) {
	key := tokens[0]
	last := len(tokens) == 1

	switch n := node.(type) {
	case map[string]interface{}:
		child, exists := n[key]
		if !last {
			if !exists {
				return nil, fmt.Errorf("path segment %q not found", key)
			}
			updated, err := applyAt(child, tokens[1:], op)
			if err != nil {
				return nil, err
			}
			n[key] = updated
			return n, nil
		}
		switch op.Op {
		case PatchOpAdd:
			n[key] = op.Value
		case PatchOpReplace:
			if !exists {
				return nil, fmt.Errorf("path segment %q not found", key)
			}
			n[key] = op.Value
		case PatchOpRemove:
			if !exists {
				return nil, fmt.Errorf("path segment %q not found", key)
			}
			delete(n, key)
		case PatchOpTest:
			if !exists || !jsonEqual(child, op.Value) {
				return nil, fmt.Errorf("test failed at %q", key)
			}
		}
		return n, nil

	case []interface{}:
		if last && op.Op == PatchOpAdd && key == "-" {
			return append(n, op.Value), nil
		}
		idx, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("invalid array index: %s", key)
		}
		if !last {
			if idx < 0 || idx >= len(n) {
				return nil, fmt.Errorf("array index out of bounds: %d", idx)
			}
			updated, err := applyAt(n[idx], tokens[1:], op)
			if err != nil {
				return nil, err
			}
			n[idx] = updated
			return n, nil
		}
		switch op.Op {
		case PatchOpAdd:
			if idx < 0 || idx > len(n) {
				return nil, fmt.Errorf("array index out of bounds: %d", idx)
			}
			n = append(n, nil)
			copy(n[idx+1:], n[idx:])
			n[idx] = op.Value
			return n, nil
		}
		if idx < 0 || idx >= len(n) {
			return nil, fmt.Errorf("array index out of bounds: %d", idx)
		}
		switch op.Op {
		case PatchOpReplace:
			n[idx] = op.Value
		case PatchOpRemove:
			n = append(n[:idx], n[idx+1:]...)
		case PatchOpTest:
			if !jsonEqual(n[idx], op.Value) {
				return nil, fmt.Errorf("test failed at index %d", idx)
			}
		}
		return n, nil
	}

	return nil, fmt.Errorf("cannot traverse into %T at %q", node, key)
}

// splitPointer decodes a JSON Pointer (RFC 6901) into its reference tokens.
func splitPointer(path string) []string {
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	for i, p := range parts {
		p = strings.ReplaceAll(p, "~1", "/")
		parts[i] = strings.ReplaceAll(p, "~0", "~")
	}
	return parts
}

func jsonEqual(a, b interface{}) bool {
	ra, errA := json.Marshal(a)
	rb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	var va, vb interface{}
	_ = json.Unmarshal(ra, &va)
	_ = json.Unmarshal(rb, &vb)
	return reflect.DeepEqual(va, vb)
}
