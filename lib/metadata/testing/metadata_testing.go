package testing

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/saltfish/lib/dataset"
	"github.com/ValentinKolb/saltfish/lib/metadata"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

// Users are the users every store under test is seeded with.
var Users = []dataset.User{
	{ID: 1, Username: "alice", Email: "alice@example.com"},
	{ID: 2, Username: "bob", Email: "bob@example.com"},
	{ID: 3, Username: "carol", Email: ""},
}

// RunStoreTests runs the conformance test suite for a metadata.IStore implementation.
func RunStoreTests(t *testing.T, name string, factory metadata.Factory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Users", func(t *testing.T) {
			testUsers(t, newStore(t, factory))
		})

		t.Run("Create&Get", func(t *testing.T) {
			testCreateGet(t, newStore(t, factory))
		})

		t.Run("DuplicateID", func(t *testing.T) {
			testDuplicateID(t, newStore(t, factory))
		})

		t.Run("DuplicateName", func(t *testing.T) {
			testDuplicateName(t, newStore(t, factory))
		})

		t.Run("InvalidUser", func(t *testing.T) {
			testInvalidUser(t, newStore(t, factory))
		})

		t.Run("PublishFailure", func(t *testing.T) {
			testPublishFailure(t, newStore(t, factory))
		})

		t.Run("PublishSeesOwner", func(t *testing.T) {
			testPublishSeesOwner(t, newStore(t, factory))
		})

		t.Run("PendingCreateBlocks", func(t *testing.T) {
			testPendingCreateBlocks(t, newStore(t, factory))
		})

		t.Run("ConcurrentCreate", func(t *testing.T) {
			testConcurrentCreate(t, newStore(t, factory))
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, newStore(t, factory))
		})

		t.Run("List", func(t *testing.T) {
			testList(t, newStore(t, factory))
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

func newStore(t *testing.T, factory metadata.Factory) metadata.IStore {
	s, err := factory(Users...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

var idCounter byte

// newDataset returns a dataset with a fresh id owned by userID.
func newDataset(userID int64, name string) dataset.Dataset {
	idCounter++
	id := bytes.Repeat([]byte{idCounter}, dataset.IDLength)
	return dataset.Dataset{
		ID:     id,
		UserID: userID,
		Name:   name,
		Schema: dataset.Schema{
			{Name: "x", Type: dataset.Numerical},
			{Name: "label", Type: dataset.Categorical},
		},
		Private: true,
		Created: time.Now().UTC().Truncate(time.Microsecond),
	}
}

// requireSameDataset compares the stored fields of want with got and checks the owner join.
func requireSameDataset(t *testing.T, want, got dataset.Dataset) {
	t.Helper()
	require.Equal(t, want.ID, got.ID)
	require.Equal(t, want.UserID, got.UserID)
	require.Equal(t, want.Name, got.Name)
	require.True(t, want.Schema.Equal(got.Schema), "schema differs: %v != %v", want.Schema, got.Schema)
	require.Equal(t, want.Private, got.Private)
	require.Equal(t, want.Frozen, got.Frozen)
	require.True(t, want.Created.Equal(got.Created), "created differs: %v != %v", want.Created, got.Created)

	owner := Users[want.UserID-1]
	require.Equal(t, owner.Username, got.Username)
	require.Equal(t, owner.Email, got.Email)
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testUsers(t *testing.T, s metadata.IStore) {
	ctx := context.Background()

	u, ok, err := s.GetUser(ctx, 2)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, Users[1], u)

	_, ok, err = s.GetUser(ctx, 99)
	require.NoError(t, err)
	require.False(t, ok)

	u, ok, err = s.GetUserByName(ctx, "carol")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, Users[2], u)

	_, ok, err = s.GetUserByName(ctx, "mallory")
	require.NoError(t, err)
	require.False(t, ok)
}

func testCreateGet(t *testing.T, s metadata.IStore) {
	ctx := context.Background()
	ds := newDataset(1, "iris")

	var published dataset.Dataset
	err := s.CreateDataset(ctx, ds, func(ctx context.Context, p dataset.Dataset) error {
		published = p
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, ds.ID, published.ID)

	got, ok, err := s.GetDataset(ctx, ds.ID)
	require.NoError(t, err)
	require.True(t, ok)
	requireSameDataset(t, ds, got)

	_, ok, err = s.GetDataset(ctx, bytes.Repeat([]byte{0xee}, dataset.IDLength))
	require.NoError(t, err)
	require.False(t, ok)

	// nil publish is allowed
	unnamed := newDataset(1, "")
	require.NoError(t, s.CreateDataset(ctx, unnamed, nil))
	got, ok, err = s.GetDataset(ctx, unnamed.ID)
	require.NoError(t, err)
	require.True(t, ok)
	requireSameDataset(t, unnamed, got)
}

func testDuplicateID(t *testing.T, s metadata.IStore) {
	ctx := context.Background()
	ds := newDataset(1, "a")
	require.NoError(t, s.CreateDataset(ctx, ds, nil))

	other := ds
	other.Name = "b"
	other.Schema = dataset.Schema{{Name: "y", Type: dataset.Numerical}}

	called := false
	err := s.CreateDataset(ctx, other, func(context.Context, dataset.Dataset) error {
		called = true
		return nil
	})
	require.True(t, errors.Is(err, metadata.ErrDatasetExists), "got %v", err)
	require.False(t, called, "publish must not run for a rejected insert")

	got, _, err := s.GetDataset(ctx, ds.ID)
	require.NoError(t, err)
	requireSameDataset(t, ds, got)
}

func testDuplicateName(t *testing.T, s metadata.IStore) {
	ctx := context.Background()
	first := newDataset(1, "shared")
	require.NoError(t, s.CreateDataset(ctx, first, nil))

	taken, err := s.NameTaken(ctx, 1, "shared", nil)
	require.NoError(t, err)
	require.True(t, taken)

	taken, err = s.NameTaken(ctx, 1, "shared", first.ID)
	require.NoError(t, err)
	require.False(t, taken, "the dataset itself must be excluded")

	taken, err = s.NameTaken(ctx, 2, "shared", nil)
	require.NoError(t, err)
	require.False(t, taken)

	taken, err = s.NameTaken(ctx, 1, "", nil)
	require.NoError(t, err)
	require.False(t, taken)

	second := newDataset(1, "shared")
	err = s.CreateDataset(ctx, second, nil)
	require.True(t, errors.Is(err, metadata.ErrDuplicateName), "got %v", err)

	// same name for another user is fine
	require.NoError(t, s.CreateDataset(ctx, newDataset(2, "shared"), nil))

	// empty names never collide
	require.NoError(t, s.CreateDataset(ctx, newDataset(1, ""), nil))
	require.NoError(t, s.CreateDataset(ctx, newDataset(1, ""), nil))
}

func testInvalidUser(t *testing.T, s metadata.IStore) {
	ctx := context.Background()
	err := s.CreateDataset(ctx, newDataset(42, "orphan"), nil)
	require.True(t, errors.Is(err, metadata.ErrInvalidUser), "got %v", err)
}

func testPublishFailure(t *testing.T, s metadata.IStore) {
	ctx := context.Background()
	ds := newDataset(1, "unpublished")

	publishErr := errors.New("cache unavailable")
	err := s.CreateDataset(ctx, ds, func(context.Context, dataset.Dataset) error {
		return publishErr
	})
	require.True(t, errors.Is(err, publishErr))

	_, ok, err := s.GetDataset(ctx, ds.ID)
	require.NoError(t, err)
	require.False(t, ok, "a failed publish must roll back the row")

	taken, err := s.NameTaken(ctx, 1, "unpublished", nil)
	require.NoError(t, err)
	require.False(t, taken)

	// retry converges
	require.NoError(t, s.CreateDataset(ctx, ds, nil))
	_, ok, err = s.GetDataset(ctx, ds.ID)
	require.NoError(t, err)
	require.True(t, ok)
}

func testPublishSeesOwner(t *testing.T, s metadata.IStore) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ds := newDataset(2, "owned")

	var published dataset.Dataset
	require.NoError(t, s.CreateDataset(ctx, ds, func(_ context.Context, d dataset.Dataset) error {
		published = d
		return nil
	}))
	require.Equal(t, ds.ID, published.ID)
	require.Equal(t, "bob", published.Username)
	require.Equal(t, "bob@example.com", published.Email)
}

func testPendingCreateBlocks(t *testing.T, s metadata.IStore) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ds := newDataset(1, "pending")
	inPublish := make(chan struct{})
	release := make(chan struct{})

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- s.CreateDataset(ctx, ds, func(context.Context, dataset.Dataset) error {
			close(inPublish)
			<-release
			return errors.New("first creator fails")
		})
	}()
	<-inPublish

	// not visible while pending
	_, ok, err := s.GetDataset(ctx, ds.ID)
	require.NoError(t, err)
	require.False(t, ok)

	secondDone := make(chan error, 1)
	go func() {
		secondDone <- s.CreateDataset(ctx, ds, nil)
	}()

	select {
	case err := <-secondDone:
		t.Fatalf("second create returned while first one was pending: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	require.Error(t, <-firstDone)
	require.NoError(t, <-secondDone, "second create must succeed after the first one rolled back")

	_, ok, err = s.GetDataset(ctx, ds.ID)
	require.NoError(t, err)
	require.True(t, ok)
}

func testConcurrentCreate(t *testing.T, s metadata.IStore) {
	ctx := context.Background()
	ds := newDataset(2, "race")

	const creators = 8
	var wg sync.WaitGroup
	results := make(chan error, creators)
	for i := 0; i < creators; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- s.CreateDataset(ctx, ds, nil)
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		require.True(t, errors.Is(err, metadata.ErrDatasetExists), "got %v", err)
	}
	require.Equal(t, 1, succeeded)

	list, err := s.ListByUser(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func testDelete(t *testing.T, s metadata.IStore) {
	ctx := context.Background()
	ds := newDataset(1, "to-delete")
	require.NoError(t, s.CreateDataset(ctx, ds, nil))

	deleted, err := s.DeleteDataset(ctx, ds.ID)
	require.NoError(t, err)
	require.True(t, deleted)

	deleted, err = s.DeleteDataset(ctx, ds.ID)
	require.NoError(t, err)
	require.False(t, deleted)

	deleted, err = s.DeleteDataset(ctx, bytes.Repeat([]byte{0xab}, dataset.IDLength))
	require.NoError(t, err)
	require.False(t, deleted)

	_, ok, err := s.GetDataset(ctx, ds.ID)
	require.NoError(t, err)
	require.False(t, ok)

	// name and id are free again
	taken, err := s.NameTaken(ctx, 1, "to-delete", nil)
	require.NoError(t, err)
	require.False(t, taken)
	require.NoError(t, s.CreateDataset(ctx, ds, nil))
}

func testList(t *testing.T, s metadata.IStore) {
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Microsecond)
	created := make([]dataset.Dataset, 0, 4)
	for i := 0; i < 4; i++ {
		ds := newDataset(3, fmt.Sprintf("set-%d", i))
		ds.Created = base.Add(time.Duration(4-i) * time.Second)
		ds.Frozen = i%2 == 0
		require.NoError(t, s.CreateDataset(ctx, ds, nil))
		created = append(created, ds)
	}
	require.NoError(t, s.CreateDataset(ctx, newDataset(1, "not-carols"), nil))

	byUser, err := s.ListByUser(ctx, 3)
	require.NoError(t, err)
	require.Len(t, byUser, 4)
	for i, ds := range byUser {
		// created timestamps are descending in insertion order
		requireSameDataset(t, created[3-i], ds)
	}

	byName, err := s.ListByUsername(ctx, "carol")
	require.NoError(t, err)
	require.Len(t, byName, 4)

	for i := range byUser {
		byID, ok, err := s.GetDataset(ctx, byUser[i].ID)
		require.NoError(t, err)
		require.True(t, ok)
		require.True(t, byUser[i].Equal(byID), "by user and by id must agree")
		require.True(t, byName[i].Equal(byID), "by username and by id must agree")
	}

	empty, err := s.ListByUser(ctx, 99)
	require.NoError(t, err)
	require.Empty(t, empty)

	empty, err = s.ListByUsername(ctx, "mallory")
	require.NoError(t, err)
	require.Empty(t, empty)
}
