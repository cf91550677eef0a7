// Package repository defines storage interfaces for domain entities.
package repository

import (
	"errors"

	"github.com/soochol/flowcast/internal/flow/ports"
)

// ErrNotFound is returned when a requested workflow does not exist.
var ErrNotFound = errors.New("workflow not found")

// StateRepository abstracts workflow/task/checkpoint persistence so callers
// don't need to know whether storage is in-memory, PostgreSQL or SQLite.
type StateRepository interface {
	ports.StateStore
}
