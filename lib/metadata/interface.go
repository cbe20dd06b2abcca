package metadata

import (
	"context"

	"github.com/ValentinKolb/saltfish/lib/dataset"
	"github.com/pkg/errors"
)

var (
	// ErrDatasetExists is returned by CreateDataset if a dataset with the same id exists.
	ErrDatasetExists = errors.New("a dataset with the same id already exists")
	// ErrDuplicateName is returned by CreateDataset if the owner already has a dataset with the same name.
	ErrDuplicateName = errors.New("a dataset with the same name already exists")
	// ErrInvalidUser is returned by CreateDataset if the owner does not exist.
	ErrInvalidUser = errors.New("no user exists with the provided id")
)

// PublishFunc is called by CreateDataset after the dataset row has been written but before
// it is committed. If it returns an error, the row is rolled back and the error is returned.
// Concurrent creators of the same id or name wait until the outcome is decided.
type PublishFunc func(ctx context.Context, ds dataset.Dataset) error

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// IStore is the authoritative store for dataset metadata. Users are owned by another
// system and are only read.
//
// All datasets returned by the store are joined with their owner (Username and Email are set)
// and their schema is decoded. Lookups that find nothing return an empty result and no error.
type IStore interface {
	// GetUser returns a user by id.
	GetUser(ctx context.Context, userID int64) (user dataset.User, found bool, err error)
	// GetUserByName returns a user by username.
	GetUserByName(ctx context.Context, username string) (user dataset.User, found bool, err error)
	// NameTaken reports whether a dataset other than exclude of the given user carries name.
	NameTaken(ctx context.Context, userID int64, name string, exclude []byte) (bool, error)
	// GetDataset returns a dataset by id.
	GetDataset(ctx context.Context, id []byte) (ds dataset.Dataset, found bool, err error)
	// ListByUser returns all datasets of a user, ordered by creation time and id.
	ListByUser(ctx context.Context, userID int64) ([]dataset.Dataset, error)
	// ListByUsername returns all datasets of a user, ordered by creation time and id.
	ListByUsername(ctx context.Context, username string) ([]dataset.Dataset, error)
	// CreateDataset inserts a dataset within a transaction and calls publish before committing.
	// Uniqueness violations are reported with ErrDatasetExists, ErrDuplicateName and ErrInvalidUser.
	CreateDataset(ctx context.Context, ds dataset.Dataset, publish PublishFunc) error
	// DeleteDataset removes a dataset and reports whether a row was removed.
	DeleteDataset(ctx context.Context, id []byte) (deleted bool, err error)
	// Close releases all resources held by the store.
	Close() error
}

// IUserWriter is implemented by stores that can also create users. It is used for seeding
// development deployments and tests; production users are created by the user management.
type IUserWriter interface {
	// PutUser inserts or updates a user.
	PutUser(ctx context.Context, user dataset.User) error
}

// Factory creates an empty store that contains the given users.
type Factory func(users ...dataset.User) (IStore, error)
