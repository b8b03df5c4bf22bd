package record

import "fmt"

// ValidationError 模型校验错误，在任何 I/O 之前抛出，不做包装
type ValidationError struct {
	Type     string
	Property string
	Reason   string
}

func (e *ValidationError) Error() string {
	if e.Property == "" {
		return fmt.Sprintf("validation failed for %s: %s", e.Type, e.Reason)
	}
	return fmt.Sprintf("validation failed for %s.%s: %s", e.Type, e.Property, e.Reason)
}

func newValidationError(typ, prop, reason string) *ValidationError {
	return &ValidationError{Type: typ, Property: prop, Reason: reason}
}
