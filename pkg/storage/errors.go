package storage

import (
	"errors"
	"fmt"

	"github.com/inkwell-hq/inkwell/pkg/access"
)

var (
	// ErrCollision if an item already exists within the store.
	ErrCollision = errors.New("item already exists")

	// ErrWriteConflict if a concurrent transaction removed or rewrote rows
	// this transaction planned to change. The caller may retry.
	ErrWriteConflict = errors.New("transactional write failed due to conflict")

	// ErrNotFound if the referenced row does not exist.
	ErrNotFound = errors.New("not found")
)

// MembershipCollisionError decorates ErrCollision with the conflicting key.
func MembershipCollisionError(principal access.Principal, resource access.Resource) error {
	return fmt.Errorf("membership for %s on %s: %w", principal, resource, ErrCollision)
}
