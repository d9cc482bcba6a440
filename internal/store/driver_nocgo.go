//go:build !cgo

package store

import (
	_ "modernc.org/sqlite"
)

// driverName selects the pure-Go SQLite driver for cgo-free builds. Vector
// queries use the cosine scan fallback since sqlite-vec needs cgo.
const driverName = "sqlite"
