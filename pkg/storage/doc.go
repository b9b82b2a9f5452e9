// Package storage persists the permission snapshot.
//
// Every backend implements SnapshotStore (Save/Load of the current snapshot)
// and Archiver (named, date-stamped copies written by the backup scheduler):
//
//   - FileSystemStore: a JSON file written atomically via temp file + rename
//   - RedisStore: a string key plus a capped history list
//   - SQLStore: a permission_snapshots table (PostgreSQL or SQLite)
//   - S3Store: current.json plus dated objects under backups/
//
// Load returns ErrNoSnapshot until the first Save.
package storage
