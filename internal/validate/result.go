package validate

import "fmt"

// Violation classifies why a model response failed validation.
type Violation string

const (
	None         Violation = ""
	Empty        Violation = "empty"
	Malformed    Violation = "malformed"
	MissingField Violation = "missing_field"
	WrongType    Violation = "wrong_type"
	EmptyArray   Violation = "empty_array"
	FieldType    Violation = "field_type"
	LegacyBlob   Violation = "legacy_blob"
)

// Result is the outcome of validating one external call: either Ok with a
// value, or a violation kind with detail. LegacyBlob results carry a usable
// Value as well.
type Result[T any] struct {
	Value     T
	Violation Violation
	Detail    string
}

func Ok[T any](v T) Result[T] {
	return Result[T]{Value: v}
}

func Fail[T any](kind Violation, format string, args ...any) Result[T] {
	return Result[T]{Violation: kind, Detail: fmt.Sprintf(format, args...)}
}

// Failed converts r into a Result of another type, keeping the violation.
func Failed[T, U any](r Result[U]) Result[T] {
	return Result[T]{Violation: r.Violation, Detail: r.Detail}
}

func (r Result[T]) OK() bool {
	return r.Violation == None
}

// Err returns nil for Ok results and a *ViolationError otherwise.
func (r Result[T]) Err() error {
	if r.OK() {
		return nil
	}
	return &ViolationError{Kind: r.Violation, Detail: r.Detail}
}

type ViolationError struct {
	Kind   Violation
	Detail string
}

func (e *ViolationError) Error() string {
	if e.Detail == "" {
		return "invalid model output: " + string(e.Kind)
	}
	return fmt.Sprintf("invalid model output (%s): %s", e.Kind, e.Detail)
}
