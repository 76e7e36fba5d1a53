package main

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

// ---------------------------------------------------------------------------
// Content filtering.
//
// A subscription filter is a JSON object. An event matches when every filter
// key is present at the top level of the event payload with an equal value.
// Nested objects compare by their JSON text. A nil filter matches everything
// and non-object payloads match only a nil filter.
// ---------------------------------------------------------------------------

type contentFilter map[string]interface{}

func parseFilter(raw interface{}) (contentFilter, error) {
	if raw == nil {
		return nil, nil
	}
	fields, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("filter must be an object, got %T", raw)
	}
	return contentFilter(fields), nil
}

func (filter contentFilter) matches(payload []byte) bool {
	if len(filter) == 0 {
		return true
	}
	var fields map[string]interface{}
	if err := wire.Unmarshal(payload, &fields); err != nil {
		return false
	}
	for key, want := range filter {
		got, exists := fields[key]
		if !exists || !sameValue(got, want) {
			return false
		}
	}
	return true
}

func sameValue(left, right interface{}) bool {
	switch left.(type) {
	case map[string]interface{}, []interface{}:
		leftText, leftErr := wire.MarshalToString(left)
		rightText, rightErr := wire.MarshalToString(right)
		return leftErr == nil && rightErr == nil && leftText == rightText
	}
	switch right.(type) {
	case map[string]interface{}, []interface{}:
		return false
	}
	return left == right
}

var wire = jsoniter.ConfigCompatibleWithStandardLibrary
