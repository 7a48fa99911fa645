package viewkv

import "errors"

// Domain error taxonomy, independent of the underlying store's wire errors.
// Each is raised at its natural layer (see SPEC_FULL.md §0, "Errors"). Underlying
// store errors that don't match a classified shape propagate unchanged.
var (
	// ErrFieldMisconfiguration means a declared index/encryption field does
	// not exist in the record's registered field accessor table.
	ErrFieldMisconfiguration = errors.New("viewkv: field misconfiguration")

	// ErrQueryNotSupported means a query references an unsupported op, or no
	// registered index covers its fields.
	ErrQueryNotSupported = errors.New("viewkv: query not supported")

	// ErrLockAcquisitionFailed means the advisory lock could not be obtained
	// within max_wait.
	ErrLockAcquisitionFailed = errors.New("viewkv: lock acquisition failed")

	// ErrCryptoNotConfigured means a model declares encrypted fields but
	// SetCrypto was never called.
	ErrCryptoNotConfigured = errors.New("viewkv: encryption functions not registered")

	// ErrRecordNotFound is returned by GetByID when no base node exists.
	ErrRecordNotFound = errors.New("viewkv: record not found")
)

// RecordNotUniqueError is raised when an atomic write is rejected by a
// UniqueNode's condition: a different record already owns that unique key.
type RecordNotUniqueError struct {
	PK string
}

func (e *RecordNotUniqueError) Error() string {
	return "viewkv: record already exists with unique key " + e.PK
}

// CounterNotSavedError is raised when an increment is attempted against a
// counter row whose owning record was never saved.
type CounterNotSavedError struct {
	PK string
}

func (e *CounterNotSavedError) Error() string {
	return "viewkv: counter precondition failed, owning record not saved: " + e.PK
}
