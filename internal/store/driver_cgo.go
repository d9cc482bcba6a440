//go:build cgo

package store

import (
	_ "github.com/mattn/go-sqlite3"
)

// driverName selects the cgo SQLite driver; the sqlite-vec extension
// registers against it when built with the sqlite_vec tag.
const driverName = "sqlite3"
