// Package storetest provides an in-memory ContentStore for tests.
package storetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/RealLeviticus/vatpaccurrency/internal/store"
)

// InMemory is a ContentStore backed by a byte slice. Revisions are
// sequential "sha-N" strings and Put enforces the precondition, so the
// conflict paths behave like the real backends.
type InMemory struct {
	mu   sync.Mutex
	data []byte
	sha  int

	// Puts counts successful writes.
	Puts int
}

// Seed installs a document as revision 1 without counting as a Put.
func (f *InMemory) Seed(data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data = append([]byte(nil), data...)
	f.sha = 1
}

func (f *InMemory) currentSHA() string {
	return fmt.Sprintf("sha-%d", f.sha)
}

// Get returns the document and its revision.
func (f *InMemory) Get(_ context.Context) ([]byte, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.data == nil {
		return nil, "", store.ErrDocumentNotFound
	}
	return append([]byte(nil), f.data...), f.currentSHA(), nil
}

// Put stores a new revision when sha matches the current one (or is empty
// while no document exists).
func (f *InMemory) Put(_ context.Context, data []byte, sha string, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.data == nil {
		if sha != "" {
			return "", store.ErrPreconditionFailed
		}
	} else if sha != f.currentSHA() {
		return "", store.ErrPreconditionFailed
	}

	f.data = append([]byte(nil), data...)
	f.sha++
	f.Puts++
	return f.currentSHA(), nil
}

var _ store.ContentStore = (*InMemory)(nil)
