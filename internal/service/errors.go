package service

import (
	"errors"
	"fmt"

	"community-hub/internal/repository"
	"community-hub/pkg/crypto"
)

// Error kinds surfaced by the chat core. Callers branch on them with errors.Is.
var (
	ErrAuthentication = errors.New("authentication required")
	ErrPermission     = errors.New("permission denied")
	ErrNotFound       = errors.New("not found")
	ErrStorage        = errors.New("storage failure")
	ErrInvalidInput   = errors.New("invalid input")
	ErrConflict       = errors.New("already exists")
	ErrCodec          = crypto.ErrCodec
)

// storageError classifies a repository failure: missing rows become
// ErrNotFound, conflicts ErrConflict, everything else ErrStorage.
func storageError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case errors.Is(err, repository.ErrConflict):
		return fmt.Errorf("%s: %w", op, ErrConflict)
	default:
		return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
	}
}
