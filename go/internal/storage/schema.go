package storage

import _ "embed"

// Schema is the Postgres DDL for the collaborative topics.
//
//go:embed schema.sql
var Schema string
