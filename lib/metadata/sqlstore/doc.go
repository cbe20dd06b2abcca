// Package sqlstore implements metadata.IStore on top of MySQL or MariaDB.
//
// Tables (created with Config.Migrate):
//
//	users(user_id PK, username UNIQUE, email)
//	datasets(dataset_id BINARY(16) PK, user_id FK -> users, name NULL, dataset_schema BLOB,
//	         private, frozen, created DATETIME(6), UNIQUE(user_id, name))
//	datasets_with_owner: view joining datasets and users, used by every read
//
// Empty dataset names are stored as NULL so that they are exempt from the unique key on
// (user_id, name). Schemas are stored in the same binary encoding as in the schema cache.
package sqlstore
