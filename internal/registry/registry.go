// Package registry persists download records across process restarts.
package registry

import (
	"errors"

	"github.com/google/uuid"

	"github.com/kroni66/luminAI-sub000/internal/common"
)

// ErrNotFound is returned when a record does not exist in the registry.
var ErrNotFound = errors.New("download record not found")

// ErrExists is returned when inserting a record whose id is already taken.
var ErrExists = errors.New("download record already exists")

// Registry is the durable store of download records. Only the download
// manager writes to it; workers never touch it.
type Registry interface {
	Insert(record *common.DownloadRecord) error
	Update(record *common.DownloadRecord) error
	Get(id uuid.UUID) (*common.DownloadRecord, error)
	GetAll() ([]*common.DownloadRecord, error)
	Delete(id uuid.UUID) error
	Close() error
}
