package contextkeys

// contextKey is an unexported type to prevent collisions with context keys defined in
// other packages.
type contextKey string

// String makes contextKey satisfy the Stringer interface to assist with debugging.
func (c contextKey) String() string {
	return "firestore-client context key " + string(c)
}

const (
	// RequestIDKey carries the emulator request id.
	RequestIDKey = contextKey("requestID")
	// ProjectIDKey carries the project the client or request is bound to.
	ProjectIDKey = contextKey("projectID")
	// DatabaseIDKey carries the database id.
	DatabaseIDKey = contextKey("databaseID")
	// UserIDKey carries the authenticated uid on the server side.
	UserIDKey = contextKey("userID")
	// OperationKey names the client operation (get, commit, listen...).
	OperationKey = contextKey("operation")
	// ListenerIDKey carries a listener subscription id.
	ListenerIDKey = contextKey("listenerID")
)
