// ABOUTME: Core capability types shared by providers, the dispatcher, and the wire endpoint.
// ABOUTME: Every operation returns a Result whose success flag is false exactly when Error is set.

package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownCapability indicates a capability name outside the known set.
var ErrUnknownCapability = errors.New("unknown capability")

// ErrUnknownOperation indicates the provider does not implement the operation.
var ErrUnknownOperation = errors.New("unknown operation")

// ErrMissingParameter indicates required operation parameters were not supplied.
var ErrMissingParameter = errors.New("missing required parameter")

// ErrUpstreamFailure indicates the capability itself reported success=false.
var ErrUpstreamFailure = errors.New("upstream execution failure")

// Wire error types reported alongside caller errors so a remote client can
// recover the sentinel.
const (
	ErrorTypeMissingParameter = "missing_parameter"
	ErrorTypeUnknownOperation = "unknown_operation"
)

// ErrorType returns the wire error type for a caller error, or "".
func ErrorType(err error) string {
	switch {
	case errors.Is(err, ErrMissingParameter):
		return ErrorTypeMissingParameter
	case errors.Is(err, ErrUnknownOperation):
		return ErrorTypeUnknownOperation
	default:
		return ""
	}
}

// ErrorForType returns the sentinel named by a wire error type, or nil.
func ErrorForType(errorType string) error {
	switch errorType {
	case ErrorTypeMissingParameter:
		return ErrMissingParameter
	case ErrorTypeUnknownOperation:
		return ErrUnknownOperation
	default:
		return nil
	}
}

// Provider implements a small set of named operations for one business domain.
type Provider interface {
	Name() string
	Operations() []OperationSpec
	Call(ctx context.Context, operation string, params map[string]any) (*Result, error)
}

// ParamSpec declares one operation parameter.
type ParamSpec struct {
	Name        string `json:"name"`
	Type        string `json:"type,omitempty"` // JSON schema type hint: string, integer, number, object, array, boolean
	Required    bool   `json:"required"`
	Description string `json:"description,omitempty"`
}

// OperationSpec declares an operation, its description and parameter schema.
type OperationSpec struct {
	Name        string
	Description string
	Params      []ParamSpec
}

// Required returns the names of the required parameters in declaration order.
func (o OperationSpec) Required() []string {
	var names []string
	for _, p := range o.Params {
		if p.Required {
			names = append(names, p.Name)
		}
	}
	return names
}

// Schema renders the parameters as a JSON schema object.
func (o OperationSpec) Schema() map[string]any {
	props := make(map[string]any, len(o.Params))
	for _, p := range o.Params {
		prop := map[string]any{"type": p.Type}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		props[p.Name] = prop
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if req := o.Required(); len(req) > 0 {
		schema["required"] = req
	}
	return schema
}

// SpecFromSchema rebuilds an OperationSpec from a wire-level JSON schema.
// Unknown shapes degrade to an operation with no declared parameters.
func SpecFromSchema(name, description string, schema map[string]any) OperationSpec {
	spec := OperationSpec{Name: name, Description: description}
	required := map[string]bool{}
	if raw, ok := schema["required"].([]any); ok {
		for _, r := range raw {
			if s, ok := r.(string); ok {
				required[s] = true
			}
		}
	}
	props, _ := schema["properties"].(map[string]any)
	names := make([]string, 0, len(props))
	for n := range props {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		p := ParamSpec{Name: n, Required: required[n]}
		if m, ok := props[n].(map[string]any); ok {
			p.Type, _ = m["type"].(string)
			p.Description, _ = m["description"].(string)
		}
		spec.Params = append(spec.Params, p)
	}
	return spec
}

// Result is the uniform operation outcome. On the wire the payload fields are
// flattened next to "success" and "error".
type Result struct {
	Success bool
	Payload map[string]any
	Error   string
}

// OK builds a successful result.
func OK(payload map[string]any) *Result {
	if payload == nil {
		payload = map[string]any{}
	}
	return &Result{Success: true, Payload: payload}
}

// Fail builds a failed result. An empty message is replaced so that the
// success/error pairing always holds.
func Fail(message string, payload map[string]any) *Result {
	if message == "" {
		message = "operation failed"
	}
	if payload == nil {
		payload = map[string]any{}
	}
	return &Result{Success: false, Payload: payload, Error: message}
}

// Err converts a failed result into an error wrapping ErrUpstreamFailure.
func (r *Result) Err() error {
	if r == nil || r.Success {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUpstreamFailure, r.Error)
}

// Get returns a payload field.
func (r *Result) Get(key string) (any, bool) {
	if r == nil || r.Payload == nil {
		return nil, false
	}
	v, ok := r.Payload[key]
	return v, ok
}

// MarshalJSON flattens the payload alongside success and error.
func (r Result) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Payload)+2)
	for k, v := range r.Payload {
		out[k] = v
	}
	out["success"] = r.Success
	if r.Error != "" {
		out["error"] = r.Error
	} else {
		delete(out, "error")
	}
	return json.Marshal(out)
}

// UnmarshalJSON splits a flattened wire object back into a Result.
// A body carrying "error" without "success" is treated as a failure.
func (r *Result) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		return errors.New("result is not a JSON object")
	}
	success, _ := raw["success"].(bool)
	var msg string
	switch e := raw["error"].(type) {
	case nil:
	case string:
		msg = e
	default:
		msg = fmt.Sprint(e)
	}
	delete(raw, "success")
	delete(raw, "error")

	r.Payload = raw
	r.Error = msg
	r.Success = success && msg == ""
	if !r.Success && r.Error == "" {
		r.Error = "operation failed"
	}
	return nil
}
