package service

import (
	"errors"

	"github.com/jackc/pgx/v5"
)

// Sentinel errors shared by all services. Handlers map them to HTTP
// status codes with errors.Is. ErrNotFound deliberately covers rows
// that exist but sit outside the requester's tenant or access scope,
// so callers cannot probe for existence.
var (
	ErrNotFound          = errors.New("resource not found")
	ErrForbidden         = errors.New("forbidden")
	ErrEditWindowExpired = errors.New("edit window expired")
	ErrAlreadyMember     = errors.New("user is already a member")
	ErrBadTarget         = errors.New("exactly one of recipient or group must be set")
	ErrAttachmentLimit   = errors.New("too many attachments")
	ErrNoAttachmentStore = errors.New("attachment storage is not configured")
)

// mapNoRows folds the repository's row-missing error into ErrNotFound;
// everything else passes through untouched.
func mapNoRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
