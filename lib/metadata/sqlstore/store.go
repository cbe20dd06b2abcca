package sqlstore

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/ValentinKolb/saltfish/lib/dataset"
	"github.com/ValentinKolb/saltfish/lib/metadata"
	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
)

var Logger = logger.GetLogger("metadata")

const (
	// MySQL error numbers
	errDuplicateEntry   = 1062
	errNoReferencedRow  = 1452
	errNoReferencedRow2 = 1216

	// name of the unique key on (user_id, name)
	userNameKey = "datasets_user_name"
)

// Config configures the connection to the relational store.
type Config struct {
	// DSN in the go-sql-driver format, e.g. "user:pass@tcp(localhost:3306)/saltfish"
	DSN string
	// MaxOpenConns limits the connection pool, 0 means unlimited
	MaxOpenConns int
	// ConnectRetries is the number of connection attempts before giving up
	ConnectRetries int
	// Migrate creates the tables and the view if they do not exist
	Migrate bool
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		user_id  BIGINT       NOT NULL AUTO_INCREMENT PRIMARY KEY,
		username VARCHAR(255) NOT NULL,
		email    VARCHAR(255) NOT NULL DEFAULT '',
		UNIQUE KEY users_username (username)
	)`,
	`CREATE TABLE IF NOT EXISTS datasets (
		dataset_id     BINARY(16)   NOT NULL PRIMARY KEY,
		user_id        BIGINT       NOT NULL,
		name           VARCHAR(255) NULL,
		dataset_schema BLOB         NOT NULL,
		private        BOOLEAN      NOT NULL DEFAULT FALSE,
		frozen         BOOLEAN      NOT NULL DEFAULT FALSE,
		created        DATETIME(6)  NOT NULL,
		UNIQUE KEY ` + userNameKey + ` (user_id, name),
		CONSTRAINT datasets_owner FOREIGN KEY (user_id) REFERENCES users (user_id) ON DELETE CASCADE
	)`,
	`CREATE OR REPLACE VIEW datasets_with_owner AS
		SELECT d.dataset_id, d.user_id, d.name, d.dataset_schema, d.private, d.frozen, d.created,
		       u.username, u.email
		FROM datasets d JOIN users u ON u.user_id = d.user_id`,
}

const (
	selectDatasets = `SELECT dataset_id, user_id, name, dataset_schema, private, frozen, created, username, email
		FROM datasets_with_owner`
	orderDatasets = ` ORDER BY created, dataset_id`
)

// datasetRow is a row of the datasets_with_owner view.
type datasetRow struct {
	ID       []byte         `db:"dataset_id"`
	UserID   int64          `db:"user_id"`
	Name     sql.NullString `db:"name"`
	Schema   []byte         `db:"dataset_schema"`
	Private  bool           `db:"private"`
	Frozen   bool           `db:"frozen"`
	Created  time.Time      `db:"created"`
	Username string         `db:"username"`
	Email    string         `db:"email"`
}

func (r datasetRow) toDataset() (dataset.Dataset, error) {
	schema, err := dataset.UnmarshalSchema(r.Schema)
	if err != nil {
		return dataset.Dataset{}, errors.Wrapf(err, "decode schema of dataset %s", dataset.EncodeID(r.ID))
	}
	return dataset.Dataset{
		ID:       r.ID,
		UserID:   r.UserID,
		Name:     r.Name.String,
		Schema:   schema,
		Private:  r.Private,
		Frozen:   r.Frozen,
		Created:  r.Created.UTC(),
		Username: r.Username,
		Email:    r.Email,
	}, nil
}

type storeImpl struct {
	db *sqlx.DB
}

// NewSQLStore connects to MySQL (or MariaDB) and optionally creates the tables.
// Times are always read and written in UTC.
func NewSQLStore(ctx context.Context, config Config) (metadata.IStore, error) {
	cfg, err := mysql.ParseDSN(config.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "invalid mysql dsn")
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC

	db, err := sqlx.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, errors.Wrap(err, "open mysql")
	}
	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}

	if err := ping(ctx, db, config.ConnectRetries); err != nil {
		_ = db.Close()
		return nil, err
	}
	Logger.Infof("connected to mysql at %s/%s", cfg.Addr, cfg.DBName)

	s := &storeImpl{db: db}
	if config.Migrate {
		if err := s.migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see metadata/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) GetUser(ctx context.Context, userID int64) (dataset.User, bool, error) {
	return getUser(ctx, s.db, userID)
}

// getUser reads a user through q, which is either the pool or an open transaction.
func getUser(ctx context.Context, q sqlx.QueryerContext, userID int64) (dataset.User, bool, error) {
	var u dataset.User
	err := q.QueryRowxContext(ctx, `SELECT user_id, username, email FROM users WHERE user_id = ?`, userID).
		Scan(&u.ID, &u.Username, &u.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return dataset.User{}, false, nil
	}
	if err != nil {
		return dataset.User{}, false, errors.Wrapf(err, "get user %d", userID)
	}
	return u, true, nil
}

func (s *storeImpl) GetUserByName(ctx context.Context, username string) (dataset.User, bool, error) {
	var u dataset.User
	err := s.db.QueryRowxContext(ctx, `SELECT user_id, username, email FROM users WHERE username = ?`, username).
		Scan(&u.ID, &u.Username, &u.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return dataset.User{}, false, nil
	}
	if err != nil {
		return dataset.User{}, false, errors.Wrapf(err, "get user %q", username)
	}
	return u, true, nil
}

func (s *storeImpl) NameTaken(ctx context.Context, userID int64, name string, exclude []byte) (bool, error) {
	if name == "" {
		return false, nil
	}
	if exclude == nil {
		exclude = []byte{}
	}
	var count int
	err := s.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM datasets WHERE user_id = ? AND name = ? AND dataset_id <> ?`,
		userID, name, exclude)
	if err != nil {
		return false, errors.Wrap(err, "check dataset name")
	}
	return count > 0, nil
}

func (s *storeImpl) GetDataset(ctx context.Context, id []byte) (dataset.Dataset, bool, error) {
	var row datasetRow
	err := s.db.GetContext(ctx, &row, selectDatasets+` WHERE dataset_id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return dataset.Dataset{}, false, nil
	}
	if err != nil {
		return dataset.Dataset{}, false, errors.Wrapf(err, "get dataset %s", dataset.EncodeID(id))
	}
	ds, err := row.toDataset()
	if err != nil {
		return dataset.Dataset{}, false, err
	}
	return ds, true, nil
}

func (s *storeImpl) ListByUser(ctx context.Context, userID int64) ([]dataset.Dataset, error) {
	return s.list(ctx, selectDatasets+` WHERE user_id = ?`+orderDatasets, userID)
}

func (s *storeImpl) ListByUsername(ctx context.Context, username string) ([]dataset.Dataset, error) {
	return s.list(ctx, selectDatasets+` WHERE username = ?`+orderDatasets, username)
}

func (s *storeImpl) CreateDataset(ctx context.Context, ds dataset.Dataset, publish metadata.PublishFunc) (err error) {
	if len(ds.ID) == 0 {
		return errors.New("dataset id must not be empty")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				Logger.Warningf("rollback of dataset %s failed: %v", dataset.EncodeID(ds.ID), rbErr)
			}
		}
	}()

	var name sql.NullString
	if ds.Name != "" {
		name = sql.NullString{String: ds.Name, Valid: true}
	}

	// a competing insert of the same id or (user, name) blocks here until this transaction ends
	_, err = tx.ExecContext(ctx,
		`INSERT INTO datasets (dataset_id, user_id, name, dataset_schema, private, frozen, created)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ds.ID, ds.UserID, name, dataset.MarshalSchema(ds.Schema), ds.Private, ds.Frozen, ds.Created.UTC())
	if err != nil {
		return classify(err)
	}

	if publish != nil {
		// the lookup shares the connection of tx, a second pool connection may never become free
		u, ok, err := getUser(ctx, tx, ds.UserID)
		if err != nil {
			return err
		}
		if ok {
			ds.Username, ds.Email = u.Username, u.Email
		}
		if err := publish(ctx, ds); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit dataset")
	}
	committed = true
	return nil
}

func (s *storeImpl) DeleteDataset(ctx context.Context, id []byte) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM datasets WHERE dataset_id = ?`, id)
	if err != nil {
		return false, errors.Wrapf(err, "delete dataset %s", dataset.EncodeID(id))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "delete dataset")
	}
	return n > 0, nil
}

func (s *storeImpl) Close() error {
	return s.db.Close()
}

// PutUser implements metadata.IUserWriter.
func (s *storeImpl) PutUser(ctx context.Context, user dataset.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (user_id, username, email) VALUES (?, ?, ?)
		 ON DUPLICATE KEY UPDATE username = VALUES(username), email = VALUES(email)`,
		user.ID, user.Username, user.Email)
	return errors.Wrapf(err, "put user %d", user.ID)
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (s *storeImpl) list(ctx context.Context, query string, args ...any) ([]dataset.Dataset, error) {
	var rows []datasetRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "list datasets")
	}
	result := make([]dataset.Dataset, 0, len(rows))
	for _, row := range rows {
		ds, err := row.toDataset()
		if err != nil {
			return nil, err
		}
		result = append(result, ds)
	}
	return result, nil
}

func (s *storeImpl) migrate(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "migrate metadata schema")
		}
	}
	return nil
}

// ping checks the connection, retrying with exponential backoff.
func ping(ctx context.Context, db *sqlx.DB, retries int) error {
	if retries < 1 {
		retries = 1
	}
	backoff := 100 * time.Millisecond
	var err error
	for i := 0; i < retries; i++ {
		if err = db.PingContext(ctx); err == nil {
			return nil
		}
		Logger.Warningf("connecting to mysql failed (attempt %d/%d): %v", i+1, retries, err)
		if i+1 < retries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
	return errors.Wrap(err, "could not connect to mysql")
}

// classify maps constraint violations of the insert to the metadata errors.
func classify(err error) error {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return errors.Wrap(err, "insert dataset")
	}
	switch myErr.Number {
	case errDuplicateEntry:
		if strings.Contains(myErr.Message, userNameKey) {
			return errors.WithStack(metadata.ErrDuplicateName)
		}
		return errors.WithStack(metadata.ErrDatasetExists)
	case errNoReferencedRow, errNoReferencedRow2:
		return errors.WithStack(metadata.ErrInvalidUser)
	default:
		return errors.Wrap(err, "insert dataset")
	}
}
