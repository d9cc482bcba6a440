package store

import (
	"database/sql"
	"fmt"

	"convergeai/internal/logging"
)

// Migration adds one column to an existing table. CREATE TABLE IF NOT EXISTS
// covers fresh databases; these cover databases created before a column
// existed.
type Migration struct {
	Table  string
	Column string
	Def    string
}

// pendingMigrations lists all schema migrations to apply.
var pendingMigrations = []Migration{
	// Sentiment was added to complaints after the first release.
	{"complaints", "sentiment_score", "REAL NOT NULL DEFAULT 0"},
	// Session linkage for complaints filed through the assistant.
	{"complaints", "session_ref", "TEXT"},
	// Alert expiry column for the scanner-managed retention window.
	{"alerts", "expires_at", "TEXT"},
	// Subcategory aliases for entity extraction.
	{"subcategories", "aliases", "TEXT"},
	// Grounding score on assistant messages.
	{"conversation_messages", "grounding_score", "REAL"},
}

// RunMigrations applies column migrations to existing databases.
func RunMigrations(db *sql.DB) error {
	applied := 0
	for _, m := range pendingMigrations {
		if !tableExists(db, m.Table) {
			continue
		}
		if columnExists(db, m.Table, m.Column) {
			continue
		}
		query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
		if _, err := db.Exec(query); err != nil {
			logging.Get(logging.CategoryStore).Warn("Migration failed (may already exist): %s.%s: %v", m.Table, m.Column, err)
			continue
		}
		applied++
	}
	if applied > 0 {
		logging.Store("Schema migrations applied: %d", applied)
	}
	return nil
}

// columnExists checks a column via PRAGMA table_info.
func columnExists(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}

// tableExists checks sqlite_master for a table.
func tableExists(db *sql.DB, table string) bool {
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count); err != nil {
		return false
	}
	return count > 0
}
