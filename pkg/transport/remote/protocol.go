package remote

import (
	"errors"
	"time"

	apperrors "firestore-client/internal/shared/errors"
	"firestore-client/pkg/firestore"
)

// Wire protocol shared by this transport and the emulator server. Paths are
// relative to /v1/projects/{project}/databases/{database}.
const (
	APIPrefix       = "/v1"
	DocumentsSuffix = "/documents"
	RunQuerySuffix  = "/documents:runQuery"
	CommitSuffix    = "/documents:commit"
	ListenSuffix    = "/listen"
	ChangesPath     = "/v1/changes"
	HealthPath      = "/health"

	DefaultDatabaseID = "(default)"
)

// Listen actions sent by the client.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)

// Listen message types sent by the server.
const (
	MessageSnapshot = "snapshot"
	MessageError    = "error"
)

// DatabasePath returns /v1/projects/{p}/databases/{d}.
func DatabasePath(projectID, databaseID string) string {
	return APIPrefix + "/projects/" + projectID + "/databases/" + databaseID
}

// ErrorBody is the JSON body of every failed response.
type ErrorBody struct {
	Error *apperrors.AppError `json:"error"`
}

// RunQueryResponse answers runQuery.
type RunQueryResponse struct {
	Documents []*firestore.Document `json:"documents"`
	ReadTime  time.Time             `json:"readTime"`
}

// CommitRequest is the commit body.
type CommitRequest struct {
	Writes []firestore.Write `json:"writes"`
}

// ListenRequest is a client message on the listen socket.
type ListenRequest struct {
	Action string            `json:"action"`
	ID     string            `json:"id"`
	Target *firestore.Target `json:"target,omitempty"`
}

// ListenMessage is a server message on the listen socket.
type ListenMessage struct {
	Type      string                `json:"type"`
	ID        string                `json:"id"`
	Documents []*firestore.Document `json:"documents,omitempty"`
	ReadTime  time.Time             `json:"readTime,omitempty"`
	Error     *apperrors.AppError   `json:"error,omitempty"`
}

// ChangesResponse answers the change log endpoint.
type ChangesResponse struct {
	Changes []firestore.ChangeRecord `json:"changes"`
	// Next is the id to pass as since to continue after this page.
	Next string `json:"next,omitempty"`
}

// ToAppError converts any error into the form that travels on the wire.
func ToAppError(err error) *apperrors.AppError {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return apperrors.NewInternalError(err.Error()).WithCause(err)
}
