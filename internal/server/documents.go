package server

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"firestore-client/internal/auth"
	"firestore-client/internal/rules"
	apperrors "firestore-client/internal/shared/errors"
	"firestore-client/pkg/firestore"
	"firestore-client/pkg/transport/remote"

	"github.com/gofiber/fiber/v2"
)

const defaultChangesPage = 100

func (s *Server) getDocument(c *fiber.Ctx) error {
	path, err := firestore.ParsePath(c.Params("*"))
	if err != nil {
		return err
	}
	if !path.IsDocument() {
		return apperrors.NewInvalidPathError("not a document path").WithDetail("path", path.String())
	}
	ctx := c.UserContext()

	doc, err := s.transport.FetchDocument(ctx, path.String())
	var resource firestore.Fields
	switch {
	case err == nil:
		resource = doc.Fields
	case !errors.Is(err, firestore.ErrNotFound):
		return err
	}
	if err := s.authorize(ctx, claimsFrom(c.Locals(localClaims)), rules.OperationGet, path.String(), resource, nil); err != nil {
		return err
	}
	if doc == nil {
		return apperrors.NewNotFoundError("document " + path.String())
	}
	return c.JSON(doc)
}

func (s *Server) runQuery(c *fiber.Ctx) error {
	var q firestore.QueryDescriptor
	if err := json.Unmarshal(c.Body(), &q); err != nil {
		return apperrors.NewInvalidArgumentError("invalid query body").WithCause(err)
	}
	if err := q.Validate(); err != nil {
		return err
	}
	ctx := c.UserContext()
	if err := s.authorize(ctx, claimsFrom(c.Locals(localClaims)), rules.OperationList, q.CollectionPath(), nil, nil); err != nil {
		return err
	}

	docs, err := s.transport.FetchQuery(ctx, q)
	if err != nil {
		return err
	}
	if docs == nil {
		docs = []*firestore.Document{}
	}
	return c.JSON(remote.RunQueryResponse{Documents: docs, ReadTime: time.Now().UTC()})
}

func (s *Server) commit(c *fiber.Ctx) error {
	var req remote.CommitRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return apperrors.NewInvalidArgumentError("invalid commit body").WithCause(err)
	}
	if len(req.Writes) == 0 {
		return apperrors.NewInvalidArgumentError("commit has no writes")
	}
	if len(req.Writes) > firestore.MaxBatchWrites {
		return apperrors.NewInvalidArgumentError("commit exceeds " + strconv.Itoa(firestore.MaxBatchWrites) + " writes")
	}
	for _, w := range req.Writes {
		if err := w.Validate(); err != nil {
			return err
		}
	}

	ctx := c.UserContext()
	if err := s.authorizeWrites(ctx, claimsFrom(c.Locals(localClaims)), req.Writes); err != nil {
		return err
	}

	result, err := s.transport.CommitBatch(ctx, req.Writes)
	if err != nil {
		return err
	}
	return c.JSON(result)
}

func (s *Server) listChanges(c *fiber.Ctx) error {
	if s.changes == nil {
		return apperrors.NewFailedPreconditionError("change log is not enabled")
	}
	if s.tokens != nil && claimsFrom(c.Locals(localClaims)) == nil {
		return apperrors.NewUnauthenticatedError("Authorization token required")
	}
	limit := int64(c.QueryInt("limit", defaultChangesPage))
	if limit <= 0 {
		return apperrors.NewInvalidArgumentError("limit must be positive")
	}

	records, err := s.changes.GetSince(c.UserContext(), c.Query("since"), limit)
	if err != nil {
		return apperrors.NewUnavailableError("change log unavailable").WithCause(err)
	}
	resp := remote.ChangesResponse{Changes: records}
	if len(records) > 0 {
		resp.Next = records[len(records)-1].ID
	}
	return c.JSON(resp)
}

// authorize checks one access against the rules, if any.
func (s *Server) authorize(ctx context.Context, claims *auth.Claims, op rules.Operation, path string, resource, data firestore.Fields) error {
	if s.rules == nil {
		return nil
	}
	req := &rules.Request{
		Operation: op,
		Path:      path,
		Resource:  resource,
		Data:      data,
		Time:      time.Now(),
	}
	if claims != nil {
		req.Auth = &rules.Auth{UID: claims.UID(), Token: claims.TokenMap()}
	}

	decision, err := s.rules.Evaluate(ctx, req)
	if err != nil {
		return apperrors.NewInternalError("rule evaluation failed").WithCause(err)
	}
	if !decision.Allowed {
		return apperrors.NewPermissionDeniedError("Missing or insufficient permissions").
			WithDetail("operation", string(op)).
			WithDetail("path", path).
			WithDetail("reason", decision.Reason)
	}
	return nil
}

// authorizeWrites checks every write of a commit. Each write is judged against
// the document as currently stored; writes to the same path in one commit see
// the stored state, not each other's.
func (s *Server) authorizeWrites(ctx context.Context, claims *auth.Claims, writes []firestore.Write) error {
	if s.rules == nil {
		return nil
	}
	now := time.Now().UTC()
	for _, w := range writes {
		existing, err := s.transport.FetchDocument(ctx, w.Path)
		if err != nil {
			if !errors.Is(err, firestore.ErrNotFound) {
				return err
			}
			existing = nil
		}

		var resource firestore.Fields
		if existing != nil {
			resource = existing.Fields
		}

		var op rules.Operation
		var data firestore.Fields
		switch w.Kind {
		case firestore.WriteDelete:
			op = rules.OperationDelete
		case firestore.WriteVerify:
			op = rules.OperationGet
		default:
			op = rules.OperationUpdate
			if existing == nil {
				op = rules.OperationCreate
			}
			after, err := w.Apply(existing, now)
			if err != nil {
				// Precondition failures surface from the commit itself.
				if errors.Is(err, firestore.ErrAborted) || errors.Is(err, firestore.ErrNotFound) {
					continue
				}
				return err
			}
			if after != nil {
				data = after.Fields
			}
		}

		if err := s.authorize(ctx, claims, op, w.Path, resource, data); err != nil {
			return err
		}
	}
	return nil
}
