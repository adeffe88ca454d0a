//go:build !sqlite3_cgo

package db

// Default driver. Pure Go via a wasm build of sqlite, so plain
// cross-compiles of the daemon need no C toolchain.

import (
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

const driverID = "ncruces/go-sqlite3"
const driverName = "sqlite3"
