package fulfillment

// RequestType identifies the kind of data-subject request a task fulfills.
// The engine reads it from the parent request at fan-out time; request-level
// lifecycle stays with the host application.
type RequestType string

const (
	// RequestTypeAccess is a request to export the subject's data.
	RequestTypeAccess RequestType = "access"

	// RequestTypeErasure is a request to delete the subject's data.
	RequestTypeErasure RequestType = "erasure"

	// RequestTypeRectification is a request to correct the subject's data.
	RequestTypeRectification RequestType = "rectification"

	// RequestTypePortability is a request to hand the subject's data over in
	// a machine-readable format.
	RequestTypePortability RequestType = "portability"

	// RequestTypeOptOut is a request to stop processing the subject's data.
	RequestTypeOptOut RequestType = "opt_out"
)

// String returns the string representation of the RequestType.
func (r RequestType) String() string { return string(r) }

// ParseRequestType converts a string to a RequestType. Unknown values come
// back as-is; the registry simply won't match them to any location.
func ParseRequestType(s string) RequestType { return RequestType(s) }
