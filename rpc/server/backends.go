package server

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/saltfish/lib/dataset"
	"github.com/ValentinKolb/saltfish/lib/metadata"
	"github.com/ValentinKolb/saltfish/lib/metadata/memstore"
	"github.com/ValentinKolb/saltfish/lib/metadata/sqlstore"
	"github.com/ValentinKolb/saltfish/lib/store"
	"github.com/ValentinKolb/saltfish/lib/store/bstore"
	"github.com/ValentinKolb/saltfish/lib/store/lstore"
	"github.com/ValentinKolb/saltfish/rpc/client"
	"github.com/ValentinKolb/saltfish/rpc/common"
	"github.com/pkg/errors"
)

// defaultConnectRetries is the number of attempts to reach the metadata database at startup
const defaultConnectRetries = 5

// ParseUser parses the "<id>:<username>[:<email>]" notation of seed users.
func ParseUser(s string) (dataset.User, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) < 2 {
		return dataset.User{}, fmt.Errorf("invalid user %q, expected <id>:<username>[:<email>]", s)
	}
	id, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil || id <= 0 {
		return dataset.User{}, fmt.Errorf("invalid user id in %q", s)
	}
	user := dataset.User{ID: id, Username: strings.TrimSpace(parts[1])}
	if user.Username == "" {
		return dataset.User{}, fmt.Errorf("empty username in %q", s)
	}
	if len(parts) == 3 {
		user.Email = strings.TrimSpace(parts[2])
	}
	return user, nil
}

// openMetadataStore creates the metadata store selected by the configuration and writes the seed users
func (s *RPCServer) openMetadataStore(ctx context.Context) (metadata.IStore, error) {
	var (
		meta metadata.IStore
		err  error
	)

	switch s.config.MetadataBackend {
	case common.MetadataBackendMemory, "":
		meta = memstore.NewMemoryStore()
	case common.MetadataBackendMySQL:
		meta, err = sqlstore.NewSQLStore(ctx, sqlstore.Config{
			DSN:            s.config.MySQLDSN,
			MaxOpenConns:   s.config.MySQLMaxOpenConns,
			ConnectRetries: defaultConnectRetries,
			Migrate:        s.config.MySQLMigrate,
		})
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("invalid metadata backend: %s", s.config.MetadataBackend)
	}

	if err := s.seedUsers(ctx, meta); err != nil {
		_ = meta.Close()
		return nil, err
	}
	return meta, nil
}

func (s *RPCServer) seedUsers(ctx context.Context, meta metadata.IStore) error {
	if len(s.config.SeedUsers) == 0 {
		return nil
	}
	writer, ok := meta.(metadata.IUserWriter)
	if !ok {
		Logger.Warningf("metadata store cannot create users, ignoring %d seed users", len(s.config.SeedUsers))
		return nil
	}
	for _, u := range s.config.SeedUsers {
		user, err := ParseUser(u)
		if err != nil {
			return err
		}
		if err := writer.PutUser(ctx, user); err != nil {
			return errors.Wrapf(err, "failed to seed user %d", user.ID)
		}
		Logger.Infof("seeded user %d (%s)", user.ID, user.Username)
	}
	return nil
}

// openKVStore creates the key-value store selected by the configuration
func (s *RPCServer) openKVStore() (store.IStore, error) {
	switch s.config.KVBackend {
	case common.KVBackendMemory, "":
		return lstore.NewLocalStore(), nil
	case common.KVBackendBolt:
		return bstore.NewBoltStore(bstore.Config{
			Path:        s.config.BoltPath,
			NoSync:      s.config.BoltNoSync,
			OpenTimeout: 10 * time.Second,
		})
	case common.KVBackendRemote:
		if s.remoteTransport == nil || s.remoteSerializer == nil {
			return nil, errors.New("remote kv backend needs a client transport and serializer")
		}
		return client.NewRPCStore(s.config.RemoteKVSID, s.config.RemoteKV, s.remoteTransport, s.remoteSerializer)
	default:
		return nil, fmt.Errorf("invalid kv backend: %s", s.config.KVBackend)
	}
}
