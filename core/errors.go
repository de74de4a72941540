package core

import "fmt"

// ErrorKind identifies the uniform taxonomy of errors the VM, storage and
// auth layers can raise. A single VMError is surfaced to the host per run.
type ErrorKind string

const (
	KindStackUnderflow         ErrorKind = "StackUnderflow"
	KindTypeMismatch           ErrorKind = "TypeMismatch"
	KindDivisionByZero         ErrorKind = "DivisionByZero"
	KindVariableNotFound       ErrorKind = "VariableNotFound"
	KindFunctionNotFound       ErrorKind = "FunctionNotFound"
	KindRecursionDepthExceeded ErrorKind = "RecursionDepthExceeded"
	KindLoopControlOutsideLoop ErrorKind = "LoopControlOutsideLoop"
	KindAssertionFailed        ErrorKind = "AssertionFailed"
	KindPermissionDenied       ErrorKind = "PermissionDenied"
	KindUnsupportedScheme      ErrorKind = "UnsupportedScheme"
	KindStorageNotFound        ErrorKind = "StorageNotFound"
	KindQuotaExceeded          ErrorKind = "QuotaExceeded"
	KindNestedTxNotSupported   ErrorKind = "NestedTxNotSupported"
	KindNoActiveTx             ErrorKind = "NoActiveTx"
	KindSerializationError     ErrorKind = "SerializationError"
	KindIoError                ErrorKind = "IoError"
	KindCancelled              ErrorKind = "Cancelled"
	KindDelegationCycle        ErrorKind = "DelegationCycle"
)

// VMError is the single structured error type surfaced to a host per run.
// It carries the causing kind, a free-form field set and, where relevant,
// the caller id active when the error occurred for auditability. Location is
// set only for an unhandled leaf opcode; neither engine records the opcode
// index or tree path at which an error occurred.
type VMError struct {
	Kind     ErrorKind
	Location string
	CallerID string
	Fields   map[string]interface{}
}

func (e *VMError) Error() string {
	if e.Location != "" {
		return fmt.Sprintf("%s at %s: %v", e.Kind, e.Location, e.Fields)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Fields)
}

func newVMError(kind ErrorKind, fields map[string]interface{}) *VMError {
	return &VMError{Kind: kind, Fields: fields}
}

func errStackUnderflow(op string, needed, actual int) *VMError {
	return newVMError(KindStackUnderflow, map[string]interface{}{"op": op, "needed": needed, "actual": actual})
}

func errTypeMismatch(expected, found, operation string) *VMError {
	return newVMError(KindTypeMismatch, map[string]interface{}{"expected": expected, "found": found, "operation": operation})
}

func errDivisionByZero(op string) *VMError {
	return newVMError(KindDivisionByZero, map[string]interface{}{"op": op})
}

func errVariableNotFound(name, scope string) *VMError {
	return newVMError(KindVariableNotFound, map[string]interface{}{"name": name, "scope": scope})
}

func errFunctionNotFound(name string) *VMError {
	return newVMError(KindFunctionNotFound, map[string]interface{}{"name": name})
}

func errRecursionDepthExceeded(limit int) *VMError {
	return newVMError(KindRecursionDepthExceeded, map[string]interface{}{"limit": limit})
}

func errLoopControlOutsideLoop(kind string) *VMError {
	return newVMError(KindLoopControlOutsideLoop, map[string]interface{}{"kind": kind})
}

func errAssertionFailed(expected, actual interface{}) *VMError {
	return newVMError(KindAssertionFailed, map[string]interface{}{"expected": expected, "actual": actual})
}

func errPermissionDenied(required, current string) *VMError {
	return newVMError(KindPermissionDenied, map[string]interface{}{"required": required, "current": current})
}

func errUnsupportedScheme(name string) *VMError {
	return newVMError(KindUnsupportedScheme, map[string]interface{}{"name": name})
}

func errStorageNotFound(ns, key string) *VMError {
	return newVMError(KindStorageNotFound, map[string]interface{}{"ns": ns, "key": key})
}

func errQuotaExceeded(limitType string, current, maximum int64) *VMError {
	return newVMError(KindQuotaExceeded, map[string]interface{}{"limit_type": limitType, "current": current, "maximum": maximum})
}

func errNestedTxNotSupported() *VMError {
	return newVMError(KindNestedTxNotSupported, nil)
}

func errNoActiveTx() *VMError {
	return newVMError(KindNoActiveTx, nil)
}

func errSerializationError(dataType string) *VMError {
	return newVMError(KindSerializationError, map[string]interface{}{"data_type": dataType})
}

func errIoError(message string) *VMError {
	return newVMError(KindIoError, map[string]interface{}{"message": message})
}

func errCancelled() *VMError {
	return newVMError(KindCancelled, nil)
}

func errDelegationCycle(from, to string) *VMError {
	return newVMError(KindDelegationCycle, map[string]interface{}{"from": from, "to": to})
}

// withLocation returns a copy of err annotated with a location string. Its
// one caller is execLeaf's fallback for an opcode it does not handle; the
// engines do not call it with an opcode index or tree path.
func withLocation(err *VMError, location string) *VMError {
	if err == nil {
		return nil
	}
	cp := *err
	cp.Location = location
	return &cp
}

// withCaller annotates err with the caller id active in the AuthContext when
// the error occurred, for auditability per the propagation policy.
func withCaller(err *VMError, callerID string) *VMError {
	if err == nil {
		return nil
	}
	cp := *err
	cp.CallerID = callerID
	return &cp
}
