package address

import (
	"fmt"

	"github.com/entityflow/entityflow/entity"
)

// Sentinel errors returned by address parsing, resolution, and input
// classification.
var (
	ErrMalformedAddress  = fmt.Errorf("malformed address")
	ErrAddressType       = fmt.Errorf("address type mismatch")
	ErrUnknownEntity     = fmt.Errorf("unknown entity")
	ErrFieldNotFound     = fmt.Errorf("field not found")
	ErrIndexOutOfRange   = fmt.Errorf("index out of range")
	ErrUnknownParameter  = fmt.Errorf("unknown parameter")
	ErrMissingRequired   = fmt.Errorf("missing required parameter")
	ErrInputTypeMismatch = fmt.Errorf("input type mismatch")
)


// MalformedAddressError names the raw string and the reason its grammar
// could not be parsed.
type MalformedAddressError struct {
	Raw    string
	Reason string
}

func (e *MalformedAddressError) Error() string {
	return fmt.Sprintf("malformed address %q: %s", e.Raw, e.Reason)
}

func (e *MalformedAddressError) Unwrap() error { return ErrMalformedAddress }

// AddressTypeError names the address and the point along its path where a
// segment expected a different shape than it found (e.g. a field segment
// applied to a non-struct, or an index segment applied to a non-container).
type AddressTypeError struct {
	Raw     string
	Segment string
	Reason  string
}

func (e *AddressTypeError) Error() string {
	return fmt.Sprintf("address %q: segment %q: %s", e.Raw, e.Segment, e.Reason)
}

func (e *AddressTypeError) Unwrap() error { return ErrAddressType }

// UnknownEntityError names the ecs_id an address's root segment named that
// the resolver could not find.
type UnknownEntityError struct {
	ECSID entity.ID
}

func (e *UnknownEntityError) Error() string {
	return fmt.Sprintf("unknown entity: %s", e.ECSID)
}

func (e *UnknownEntityError) Unwrap() error { return ErrUnknownEntity }

// FieldNotFoundError names the struct field a dotted segment could not
// find.
type FieldNotFoundError struct {
	Field string
}

func (e *FieldNotFoundError) Error() string {
	return fmt.Sprintf("field not found: %s", e.Field)
}

func (e *FieldNotFoundError) Unwrap() error { return ErrFieldNotFound }

// IndexOutOfRangeError names the out-of-bounds index a bracket segment used.
type IndexOutOfRangeError struct {
	Index string
	Len   int
}

func (e *IndexOutOfRangeError) Error() string {
	return fmt.Sprintf("index %s out of range (len %d)", e.Index, e.Len)
}

func (e *IndexOutOfRangeError) Unwrap() error { return ErrIndexOutOfRange }

// UnknownParameterError names a kwarg that does not match any declared
// parameter.
type UnknownParameterError struct {
	Name string
}

func (e *UnknownParameterError) Error() string {
	return fmt.Sprintf("unknown parameter: %s", e.Name)
}

func (e *UnknownParameterError) Unwrap() error { return ErrUnknownParameter }

// MissingRequiredError names a declared parameter the caller did not
// supply.
type MissingRequiredError struct {
	Name string
}

func (e *MissingRequiredError) Error() string {
	return fmt.Sprintf("missing required parameter: %s", e.Name)
}

func (e *MissingRequiredError) Unwrap() error { return ErrMissingRequired }

// InputTypeMismatchError names a parameter whose supplied literal value does
// not conform to its declared type, or a Borrow/BorrowFrom destination field
// that cannot hold the borrowed value. A resolved address whose value does
// not conform is reported as AddressTypeError instead.
type InputTypeMismatchError struct {
	Name     string
	Declared string
	Got      string
}

func (e *InputTypeMismatchError) Error() string {
	return fmt.Sprintf("parameter %s: expected %s, got %s", e.Name, e.Declared, e.Got)
}

func (e *InputTypeMismatchError) Unwrap() error { return ErrInputTypeMismatch }
