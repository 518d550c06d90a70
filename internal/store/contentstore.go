package store

import (
	"context"
	"errors"
)

// ContentStore is the versioned-document transport contract. The document
// is an opaque byte payload addressed by a single path; every revision is
// identified by a SHA (or ETag) that acts as the PUT precondition.
type ContentStore interface {
	// Get fetches the current document and its revision identifier.
	// It returns ErrDocumentNotFound when no document exists yet.
	Get(ctx context.Context) (data []byte, sha string, err error)

	// Put writes a new revision. sha is the last-observed revision and is
	// the write precondition; an empty sha means "create, must not exist".
	// It returns ErrPreconditionFailed when the precondition does not hold.
	// message is a human-readable change description; backends without a
	// commit log may ignore it.
	Put(ctx context.Context, data []byte, sha string, message string) (newSHA string, err error)
}

// Transport-level sentinel errors shared by the content-store backends.
var (
	// ErrDocumentNotFound indicates the document does not exist yet.
	ErrDocumentNotFound = errors.New("store document not found")

	// ErrPreconditionFailed indicates the revision precondition did not hold.
	ErrPreconditionFailed = errors.New("store revision precondition failed")
)
