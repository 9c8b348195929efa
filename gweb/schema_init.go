// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package gweb

import (
	"context"
	"database/sql"
	"fmt"
)

// schemaStatements uses only portable DDL so the same bootstrap runs on Postgres and SQLite
var schemaStatements = []struct {
	name  string
	query string
}{
	{"user_reg_info", `CREATE TABLE IF NOT EXISTS user_reg_info (
		uid        TEXT PRIMARY KEY,
		first_name TEXT,
		last_name  TEXT,
		email      TEXT NOT NULL UNIQUE,
		password   TEXT,
		start_date TEXT,
		avatar_url TEXT
	)`},
	{"user_phone", `CREATE TABLE IF NOT EXISTS user_phone (
		uid          TEXT NOT NULL,
		phone_type   TEXT NOT NULL,
		phone_number TEXT,
		PRIMARY KEY (uid, phone_type)
	)`},
	{"user_address", `CREATE TABLE IF NOT EXISTS user_address (
		uid          TEXT NOT NULL,
		address_type TEXT NOT NULL,
		add1         TEXT,
		add2         TEXT,
		add3         TEXT,
		country      TEXT,
		state        TEXT,
		pincode      TEXT,
		PRIMARY KEY (uid, address_type)
	)`},
	{"user_social_network", `CREATE TABLE IF NOT EXISTS user_social_network (
		uid          TEXT NOT NULL,
		network_type TEXT NOT NULL,
		handle       TEXT,
		PRIMARY KEY (uid, network_type)
	)`},
	{"conn_request", `CREATE TABLE IF NOT EXISTS conn_request (
		from_uid   TEXT NOT NULL,
		to_uid     TEXT NOT NULL,
		flag       TEXT NOT NULL,
		message    TEXT,
		created_at TEXT NOT NULL,
		PRIMARY KEY (from_uid, to_uid)
	)`},
	{"conn_request_to_idx", `CREATE INDEX IF NOT EXISTS conn_request_to_idx ON conn_request (to_uid)`},
	{"conn_channel", `CREATE TABLE IF NOT EXISTS conn_channel (
		channel_id TEXT PRIMARY KEY,
		from_uid   TEXT NOT NULL,
		to_uid     TEXT NOT NULL,
		pref_type  TEXT NOT NULL,
		pref_value TEXT,
		created_at TEXT NOT NULL
	)`},
	{"conn_channel_from_idx", `CREATE INDEX IF NOT EXISTS conn_channel_from_idx ON conn_channel (from_uid)`},
	{"conn_channel_to_idx", `CREATE INDEX IF NOT EXISTS conn_channel_to_idx ON conn_channel (to_uid)`},
	{"conn_preference", `CREATE TABLE IF NOT EXISTS conn_preference (
		uid        TEXT NOT NULL,
		pref_type  TEXT NOT NULL,
		pref_value TEXT,
		visibility TEXT NOT NULL,
		PRIMARY KEY (uid, pref_type)
	)`},
}

// InitializeSchema creates the application tables if they don't exist, in one transaction
func InitializeSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, s := range schemaStatements {
		if _, err := tx.ExecContext(ctx, s.query); err != nil {
			return fmt.Errorf("create %s: %w", s.name, err)
		}
	}
	return tx.Commit()
}
