package rules

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// Context is the subject-side input to rule evaluation: an immutable JSON
// document resolved by attribute path. Building it once per request lets
// every predicate share the same bounded document.
type Context struct {
	doc []byte
}

// EmptyContext returns a context with no attributes. Every condition
// evaluated against it is indeterminate.
func EmptyContext() *Context {
	return &Context{}
}

// NewContext builds a Context from an attribute map.
func NewContext(attrs map[string]any) (*Context, error) {
	doc, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode context attributes: %w", err)
	}
	return &Context{doc: doc}, nil
}

// NewContextFromJSON builds a Context from a raw JSON object, enforcing a
// size bound so path extraction stays proportional to a known limit.
func NewContextFromJSON(raw []byte, maxBytes int) (*Context, error) {
	if maxBytes > 0 && len(raw) > maxBytes {
		return nil, fmt.Errorf("context document is %d bytes, exceeding the %d byte limit", len(raw), maxBytes)
	}
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("context document is not valid JSON")
	}
	if !gjson.ParseBytes(raw).IsObject() {
		return nil, fmt.Errorf("context document must be a JSON object")
	}
	return &Context{doc: raw}, nil
}

// Resolve extracts the value at a normalized dotted path. A non-existent
// path yields a Result with Exists() == false; the evaluator treats that as
// indeterminate (fail closed).
func (c *Context) Resolve(path string) gjson.Result {
	return gjson.GetBytes(c.doc, path)
}

// parseOperand interprets a raw JSON operand from the rule tree.
func parseOperand(raw json.RawMessage) gjson.Result {
	return gjson.ParseBytes(raw)
}
