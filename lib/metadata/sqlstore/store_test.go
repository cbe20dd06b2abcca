package sqlstore

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/ValentinKolb/saltfish/lib/dataset"
	"github.com/ValentinKolb/saltfish/lib/metadata"
	metatesting "github.com/ValentinKolb/saltfish/lib/metadata/testing"
	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

// dsnEnv names the environment variable holding the DSN of a disposable test database.
const dsnEnv = "SALTFISH_TEST_MYSQL_DSN"

func Test(t *testing.T) {
	dsn := os.Getenv(dsnEnv)
	if dsn == "" {
		t.Skipf("%s not set", dsnEnv)
	}

	metatesting.RunStoreTests(t, "SQLStore", func(users ...dataset.User) (metadata.IStore, error) {
		ctx := context.Background()
		s, err := NewSQLStore(ctx, Config{DSN: dsn, Migrate: true, ConnectRetries: 3})
		if err != nil {
			return nil, err
		}
		impl := s.(*storeImpl)
		if _, err := impl.db.ExecContext(ctx, `DELETE FROM datasets`); err != nil {
			return nil, err
		}
		if _, err := impl.db.ExecContext(ctx, `DELETE FROM users`); err != nil {
			return nil, err
		}
		for _, u := range users {
			if err := impl.PutUser(ctx, u); err != nil {
				return nil, err
			}
		}
		return s, nil
	})
}

func TestCreateDatasetSingleConnection(t *testing.T) {
	dsn := os.Getenv(dsnEnv)
	if dsn == "" {
		t.Skipf("%s not set", dsnEnv)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := NewSQLStore(ctx, Config{DSN: dsn, Migrate: true, ConnectRetries: 3, MaxOpenConns: 1})
	require.NoError(t, err)
	defer s.Close()
	impl := s.(*storeImpl)
	_, err = impl.db.ExecContext(ctx, `DELETE FROM datasets`)
	require.NoError(t, err)
	require.NoError(t, impl.PutUser(ctx, dataset.User{ID: 7, Username: "solo", Email: "solo@example.com"}))

	ds := dataset.Dataset{
		ID:      bytes.Repeat([]byte{0x5a}, dataset.IDLength),
		UserID:  7,
		Schema:  dataset.Schema{{Name: "x", Type: dataset.Numerical}},
		Created: time.Now().UTC(),
	}
	var owner string
	// the owner lookup must not wait for a second connection while the transaction holds the only one
	require.NoError(t, s.CreateDataset(ctx, ds, func(_ context.Context, d dataset.Dataset) error {
		owner = d.Username
		return nil
	}))
	require.Equal(t, "solo", owner)

	_, ok, err := s.GetDataset(ctx, ds.ID)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected error
	}{
		{
			name:     "duplicate id",
			err:      &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'x' for key 'PRIMARY'"},
			expected: metadata.ErrDatasetExists,
		},
		{
			name:     "duplicate name",
			err:      &mysql.MySQLError{Number: 1062, Message: "Duplicate entry '1-a' for key 'datasets.datasets_user_name'"},
			expected: metadata.ErrDuplicateName,
		},
		{
			name:     "missing user",
			err:      &mysql.MySQLError{Number: 1452, Message: "Cannot add or update a child row"},
			expected: metadata.ErrInvalidUser,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.True(t, errors.Is(classify(tt.err), tt.expected))
		})
	}

	other := classify(&mysql.MySQLError{Number: 1213, Message: "Deadlock found"})
	require.False(t, errors.Is(other, metadata.ErrDatasetExists))
	require.Error(t, other)

	plain := classify(errors.New("connection refused"))
	require.Contains(t, plain.Error(), "connection refused")
}

func TestInvalidDSN(t *testing.T) {
	_, err := NewSQLStore(context.Background(), Config{DSN: "not a dsn"})
	require.Error(t, err)
}
