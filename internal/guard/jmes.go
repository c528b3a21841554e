package guard

import (
	"fmt"
	"gatekeep/internal/types"

	"github.com/goccy/go-json"
	"github.com/jmespath/go-jmespath"
)

// EvalAny returns the raw value selected by the JMESPath expression.
// It will return nil and no error if the expression does not match anything.
func EvalAny(expression string, payload map[string]any) (any, error) {
	v, err := jmespath.Search(expression, payload)
	if err != nil {
		return nil, fmt.Errorf("jmespath: %w", err)
	}
	return v, nil
}

// EvalString coerces the selection to string; other values are JSON-encoded.
func EvalString(expression string, payload map[string]any) (*string, error) {
	v, err := EvalAny(expression, payload)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	switch t := v.(type) {
	case string:
		return &t, nil
	default:
		b, _ := json.Marshal(t)
		bs := string(b)
		return &bs, nil
	}
}

// ExtractReference finds the external idempotency reference of a decoded event payload,
// e.g. "data.object.id" for a payment gateway webhook.
func ExtractReference(expression string, payload map[string]any) (string, error) {
	ref, err := EvalString(expression, payload)
	if err != nil {
		return "", err
	}
	if ref == nil || *ref == "" {
		return "", types.Err(types.ErrNotFound, nil, "no reference at %q", expression)
	}
	return *ref, nil
}
