package resilience

import "context"

// OperationType tags the class of a wrapped operation. It is used purely
// as a routing and statistics key; the framework never inspects the
// business semantics of the operation itself.
type OperationType string

const (
	OpAuthenticate OperationType = "authenticate"
	OpRefresh      OperationType = "refresh"
	OpLogout       OperationType = "logout"
	OpValidate     OperationType = "validate"
)

// OperationTypes lists the closed set of operation tags
func OperationTypes() []OperationType {
	return []OperationType{OpAuthenticate, OpRefresh, OpLogout, OpValidate}
}

// Operation is an opaque asynchronous unit of work returning a result or
// failing with a typed error
type Operation func(ctx context.Context) (interface{}, error)
