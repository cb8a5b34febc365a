package database

import (
	"database/sql"
	"fmt"
	"time"
)

// SchemaValidator checks a migrated database against what the store expects.
type SchemaValidator struct {
	db *sql.DB
}

func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// Validate runs every check in order.
func (v *SchemaValidator) Validate() error {
	checks := []func() error{
		v.ValidateTablesExist,
		v.ValidateTableStructure,
		v.ValidateIndexes,
		v.ValidateConstraints,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist() error {
	requiredTables := map[string]string{
		"interactions":      "Raised hands and speakers",
		"messages":          "Chat feed",
		"schema_migrations": "Migration tracking",
	}

	for table, description := range requiredTables {
		exists, err := v.exists("table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s (%s): %w", table, description, err)
		}
		if !exists {
			return fmt.Errorf("required table %s (%s) does not exist", table, description)
		}
	}
	return nil
}

// ValidateTableStructure verifies column names and declared types
// TECHNICAL DISCOVERY: created_at must be declared DATETIME for the driver to
// scan it back into time.Time
func (v *SchemaValidator) ValidateTableStructure() error {
	interactionColumns := map[string]string{
		"id":             "TEXT",
		"room_id":        "TEXT",
		"participant_id": "TEXT",
		"display_name":   "TEXT",
		"status":         "TEXT",
		"created_at":     "DATETIME",
		"updated_at":     "DATETIME",
	}
	if err := v.validateColumns("interactions", interactionColumns); err != nil {
		return fmt.Errorf("interactions table structure invalid: %w", err)
	}

	messageColumns := map[string]string{
		"id":          "TEXT",
		"room_id":     "TEXT",
		"author_id":   "TEXT",
		"author_name": "TEXT",
		"author_role": "TEXT",
		"body":        "TEXT",
		"is_question": "INTEGER",
		"created_at":  "DATETIME",
	}
	if err := v.validateColumns("messages", messageColumns); err != nil {
		return fmt.Errorf("messages table structure invalid: %w", err)
	}
	return nil
}

// ValidateIndexes verifies that all performance and uniqueness indexes exist
func (v *SchemaValidator) ValidateIndexes() error {
	requiredIndexes := map[string]string{
		"idx_interactions_room_status": "Queue polling",
		"idx_interactions_one_live":    "Single live speaker per room",
		"idx_interactions_participant": "Own-record lookups",
		"idx_messages_room_time":       "Recent message page",
	}

	for index, purpose := range requiredIndexes {
		exists, err := v.exists("index", index)
		if err != nil {
			return fmt.Errorf("error checking index %s (%s): %w", index, purpose, err)
		}
		if !exists {
			return fmt.Errorf("required index %s (%s) does not exist", index, purpose)
		}
	}
	return nil
}

// ValidateConstraints probes the CHECK and unique constraints inside a
// transaction that is always rolled back.
func (v *SchemaValidator) ValidateConstraints() error {
	tx, err := v.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	insert := `INSERT INTO interactions (id, room_id, participant_id, display_name, status, created_at, updated_at)
		VALUES (?, '__probe', 'p', 'Probe', ?, ?, ?)`

	if _, err := tx.Exec(insert, "__probe_bad", "raised", now, now); err == nil {
		return fmt.Errorf("check constraint not enforced: interactions.status")
	}
	if _, err := tx.Exec(insert, "__probe_live1", "live", now, now); err != nil {
		return fmt.Errorf("failed to insert probe record: %w", err)
	}
	if _, err := tx.Exec(insert, "__probe_live2", "live", now, now); err == nil {
		return fmt.Errorf("unique constraint not enforced: one live interaction per room")
	}

	_, err = tx.Exec(`INSERT INTO messages (id, room_id, author_id, author_name, author_role, body, created_at)
		VALUES ('__probe', '__probe', 'p', 'Probe', 'guest', 'hi', ?)`, now)
	if err == nil {
		return fmt.Errorf("check constraint not enforced: messages.author_role")
	}
	return nil
}

func (v *SchemaValidator) exists(kind, name string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?",
		kind, name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// validateColumns checks that a table has the expected columns with correct types
func (v *SchemaValidator) validateColumns(tableName string, expectedColumns map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	foundColumns := make(map[string]string)
	for rows.Next() {
		var (
			cid          int
			name         string
			dataType     string
			notNull      int
			defaultValue any
			pk           int
		)
		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		foundColumns[name] = dataType
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for expectedCol, expectedType := range expectedColumns {
		foundType, ok := foundColumns[expectedCol]
		if !ok {
			return fmt.Errorf("column %s not found", expectedCol)
		}
		if foundType != expectedType {
			return fmt.Errorf("column %s has type %s, expected %s", expectedCol, foundType, expectedType)
		}
	}
	return nil
}
