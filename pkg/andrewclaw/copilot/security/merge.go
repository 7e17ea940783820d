// Package security – merge.go merges model-provided JSON into stored
// ledgers. Keys that could address object internals in downstream tooling
// are refused at any depth.
package security

import (
	"fmt"
	"reflect"
)

// BlockedMergeKeys are refused anywhere in a merge source.
var BlockedMergeKeys = map[string]bool{
	"__proto__":   true,
	"prototype":   true,
	"constructor": true,
}

// MergeError is returned when a merge source carries a blocked key.
type MergeError struct {
	Key string
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("blocked key in ledger update: %q", e.Key)
}

// ValidateKeys walks m, including maps nested in lists, and fails on the
// first blocked key.
func ValidateKeys(m map[string]any) error {
	for key, value := range m {
		if BlockedMergeKeys[key] {
			return &MergeError{Key: key}
		}
		if err := validateValue(value); err != nil {
			return err
		}
	}
	return nil
}

func validateValue(v any) error {
	switch t := v.(type) {
	case map[string]any:
		return ValidateKeys(t)
	case []any:
		for _, item := range t {
			if err := validateValue(item); err != nil {
				return err
			}
		}
	}
	return nil
}

// MergeLedger deep-merges src into dst. Nested maps merge recursively,
// lists gain the items they do not already contain, and every other value
// replaces the destination. dst is untouched when src is rejected.
func MergeLedger(dst, src map[string]any) error {
	if err := ValidateKeys(src); err != nil {
		return err
	}
	mergeInto(dst, src)
	return nil
}

func mergeInto(dst, src map[string]any) {
	for key, value := range src {
		switch sv := value.(type) {
		case map[string]any:
			if dv, ok := dst[key].(map[string]any); ok {
				mergeInto(dv, sv)
				continue
			}
		case []any:
			if dv, ok := dst[key].([]any); ok {
				dst[key] = appendMissing(dv, sv)
				continue
			}
		}
		dst[key] = value
	}
}

func appendMissing(dst, items []any) []any {
	for _, item := range items {
		if !containsValue(dst, item) {
			dst = append(dst, item)
		}
	}
	return dst
}

func containsValue(list []any, v any) bool {
	for _, item := range list {
		if reflect.DeepEqual(item, v) {
			return true
		}
	}
	return false
}
