// Package db embeds the database schema for bootstrap tooling.
package db

import _ "embed"

// Schema is the full DDL for the benefix database.
//
//go:embed schema.sql
var Schema string
