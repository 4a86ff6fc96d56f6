// Package db carries the Postgres schema used by the stores.
package db

import _ "embed"

//go:embed schema.sql
var Schema string
