//go:build cgo && sqlite3_cgo

package db

// Opt-in CGO driver, selected with -tags sqlite3_cgo. Links the C
// sqlite library for platforms where the wasm runtime is unavailable.

import (
	_ "github.com/mattn/go-sqlite3"
)

const driverID = "mattn/go-sqlite3"
const driverName = "sqlite3"
