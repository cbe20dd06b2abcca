package memstore

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/ValentinKolb/saltfish/lib/dataset"
	"github.com/ValentinKolb/saltfish/lib/metadata"
	"github.com/pkg/errors"
)

// NewMemoryStore creates an in-memory metadata store containing the given users.
func NewMemoryStore(users ...dataset.User) metadata.IStore {
	s := &storeImpl{
		users:    make(map[int64]dataset.User),
		datasets: make(map[string]dataset.Dataset),
		pending:  make(map[string]dataset.Dataset),
	}
	s.cond = sync.NewCond(&s.mu)
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

// storeImpl mimics the row locking of a relational store: a dataset that is being created
// is kept in pending until its PublishFunc returned. Readers only see committed datasets,
// writers touching the same id or name wait for the pending one to be decided.
type storeImpl struct {
	mu       sync.Mutex
	cond     *sync.Cond
	users    map[int64]dataset.User
	datasets map[string]dataset.Dataset
	pending  map[string]dataset.Dataset
	closed   bool
}

// --------------------------------------------------------------------------
// Interface Methods (docu see metadata/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) GetUser(ctx context.Context, userID int64) (dataset.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return dataset.User{}, false, err
	}
	u, ok := s.users[userID]
	return u, ok, nil
}

func (s *storeImpl) GetUserByName(ctx context.Context, username string) (dataset.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return dataset.User{}, false, err
	}
	u, ok := s.userByName(username)
	return u, ok, nil
}

func (s *storeImpl) NameTaken(ctx context.Context, userID int64, name string, exclude []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return false, err
	}
	_, taken := s.findName(s.datasets, userID, name, exclude)
	return taken, nil
}

func (s *storeImpl) GetDataset(ctx context.Context, id []byte) (dataset.Dataset, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return dataset.Dataset{}, false, err
	}
	ds, ok := s.datasets[string(id)]
	if !ok {
		return dataset.Dataset{}, false, nil
	}
	return s.joined(ds), true, nil
}

func (s *storeImpl) ListByUser(ctx context.Context, userID int64) ([]dataset.Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	return s.listByUser(userID), nil
}

func (s *storeImpl) ListByUsername(ctx context.Context, username string) ([]dataset.Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	u, ok := s.userByName(username)
	if !ok {
		return []dataset.Dataset{}, nil
	}
	return s.listByUser(u.ID), nil
}

func (s *storeImpl) CreateDataset(ctx context.Context, ds dataset.Dataset, publish metadata.PublishFunc) error {
	if len(ds.ID) == 0 {
		return errors.New("dataset id must not be empty")
	}
	id := string(ds.ID)
	row := clone(ds)
	row.Username, row.Email = "", ""

	// wake up the wait below when the context ends
	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer stop()

	s.mu.Lock()
	for {
		if err := s.check(ctx); err != nil {
			s.mu.Unlock()
			return err
		}
		if _, ok := s.users[row.UserID]; !ok {
			s.mu.Unlock()
			return errors.WithStack(metadata.ErrInvalidUser)
		}
		if _, ok := s.datasets[id]; ok {
			s.mu.Unlock()
			return errors.WithStack(metadata.ErrDatasetExists)
		}
		if _, taken := s.findName(s.datasets, row.UserID, row.Name, row.ID); taken {
			s.mu.Unlock()
			return errors.WithStack(metadata.ErrDuplicateName)
		}

		_, idPending := s.pending[id]
		_, namePending := s.findName(s.pending, row.UserID, row.Name, nil)
		if !idPending && !namePending {
			break
		}
		s.cond.Wait()
	}
	s.pending[id] = row
	s.mu.Unlock()

	var err error
	if publish != nil {
		err = publish(ctx, s.joinedLocked(row))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, id)
	if err == nil && s.closed {
		err = errors.New("metadata store closed during create")
	}
	if err == nil {
		s.datasets[id] = row
	}
	s.cond.Broadcast()
	return err
}

func (s *storeImpl) DeleteDataset(ctx context.Context, id []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return false, err
	}
	if _, ok := s.datasets[string(id)]; !ok {
		return false, nil
	}
	delete(s.datasets, string(id))
	return true, nil
}

func (s *storeImpl) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cond.Broadcast()
	return nil
}

// PutUser implements metadata.IUserWriter.
func (s *storeImpl) PutUser(ctx context.Context, user dataset.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	s.users[user.ID] = user
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods (callers hold s.mu)
// --------------------------------------------------------------------------

func (s *storeImpl) check(ctx context.Context) error {
	if s.closed {
		return errors.New("metadata store is closed")
	}
	return ctx.Err()
}

func (s *storeImpl) userByName(username string) (dataset.User, bool) {
	for _, u := range s.users {
		if u.Username == username {
			return u, true
		}
	}
	return dataset.User{}, false
}

// findName looks for a dataset of userID named name in rows, ignoring exclude.
// Empty names never collide.
func (s *storeImpl) findName(rows map[string]dataset.Dataset, userID int64, name string, exclude []byte) (dataset.Dataset, bool) {
	if name == "" {
		return dataset.Dataset{}, false
	}
	for _, ds := range rows {
		if ds.UserID == userID && ds.Name == name && !bytes.Equal(ds.ID, exclude) {
			return ds, true
		}
	}
	return dataset.Dataset{}, false
}

func (s *storeImpl) listByUser(userID int64) []dataset.Dataset {
	result := make([]dataset.Dataset, 0)
	for _, ds := range s.datasets {
		if ds.UserID == userID {
			result = append(result, s.joined(ds))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].Created.Equal(result[j].Created) {
			return result[i].Created.Before(result[j].Created)
		}
		return bytes.Compare(result[i].ID, result[j].ID) < 0
	})
	return result
}

// joined returns a copy of ds with the owner fields filled in.
func (s *storeImpl) joined(ds dataset.Dataset) dataset.Dataset {
	out := clone(ds)
	if u, ok := s.users[ds.UserID]; ok {
		out.Username = u.Username
		out.Email = u.Email
	}
	return out
}

// joinedLocked is joined for callers that do not hold s.mu.
func (s *storeImpl) joinedLocked(ds dataset.Dataset) dataset.Dataset {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joined(ds)
}

func clone(ds dataset.Dataset) dataset.Dataset {
	out := ds
	out.ID = bytes.Clone(ds.ID)
	out.Schema = append(dataset.Schema{}, ds.Schema...)
	return out
}
