package main

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id              TEXT PRIMARY KEY,
		state           TEXT NOT NULL DEFAULT 'greeting',
		name            TEXT DEFAULT '',
		email           TEXT DEFAULT '',
		phone           TEXT DEFAULT '',
		address         TEXT DEFAULT '',
		gender          TEXT DEFAULT '',
		ministry        TEXT DEFAULT '',
		category        TEXT DEFAULT '',
		subject         TEXT DEFAULT '',
		description     TEXT DEFAULT '',
		incident_date   TEXT DEFAULT '',
		classified_ministry TEXT DEFAULT '',
		classified_category TEXT DEFAULT '',
		message_count   INTEGER NOT NULL DEFAULT 0,
		tracking_number TEXT DEFAULT '',
		error_reason    TEXT DEFAULT '',
		created_at      DATETIME DEFAULT CURRENT_TIMESTAMP,
		last_message_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		completed_at    DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_state ON sessions(state);
	CREATE INDEX IF NOT EXISTS idx_sessions_last_message ON sessions(last_message_at);

	CREATE TABLE IF NOT EXISTS complaints (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		tracking_number TEXT NOT NULL UNIQUE,
		name            TEXT DEFAULT '',
		email           TEXT DEFAULT '',
		phone           TEXT DEFAULT '',
		address         TEXT DEFAULT '',
		ministry        TEXT NOT NULL,
		category        TEXT NOT NULL,
		subject         TEXT DEFAULT '',
		description     TEXT NOT NULL,
		incident_date   TEXT DEFAULT '',
		status          TEXT NOT NULL DEFAULT 'submitted',
		priority        TEXT NOT NULL DEFAULT 'normal',
		evidence_count  INTEGER NOT NULL DEFAULT 0,
		created_at      DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at      DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_complaints_tracking ON complaints(tracking_number);
	CREATE INDEX IF NOT EXISTS idx_complaints_status ON complaints(status);

	CREATE TABLE IF NOT EXISTS complaint_status_history (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		complaint_id INTEGER NOT NULL,
		status       TEXT NOT NULL,
		note         TEXT DEFAULT '',
		actor        TEXT DEFAULT 'system',
		created_at   DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_csh_complaint ON complaint_status_history(complaint_id);

	CREATE TABLE IF NOT EXISTS ministries (
		id   INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS categories (
		id   INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE
	);
	`
	if _, err = db.Exec(schema); err != nil {
		return nil, err
	}

	if err := seedTaxonomy(db); err != nil {
		return nil, err
	}
	return db, nil
}

// seedTaxonomy inserts the default ministry/category sets on first run.
// An empty taxonomy would make every classification fall through to the
// emergency path, so the tables are never left empty.
func seedTaxonomy(db *sql.DB) error {
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM ministries`).Scan(&count); err != nil {
		return err
	}
	if count == 0 {
		for _, name := range defaultMinistries {
			if _, err := db.Exec(`INSERT INTO ministries (name) VALUES (?)`, name); err != nil {
				return err
			}
		}
	}
	if err := db.QueryRow(`SELECT COUNT(*) FROM categories`).Scan(&count); err != nil {
		return err
	}
	if count == 0 {
		for _, name := range defaultCategories {
			if _, err := db.Exec(`INSERT INTO categories (name) VALUES (?)`, name); err != nil {
				return err
			}
		}
	}
	return nil
}

var defaultMinistries = []string{
	"Ministry of Health",
	"Ministry of Education",
	"Ministry of Transport",
	"Ministry of Water Resources",
	"Ministry of Energy",
	"Ministry of Home Affairs",
	"Ministry of Social Welfare",
	"Ministry of Finance",
}

var defaultCategories = []string{
	"Service Delay",
	"Medical Negligence",
	"Emergency Services",
	"Police Misconduct",
	"Corruption & Bribery",
	"Water Supply",
	"Electricity",
	"Road Maintenance",
	"Sanitation & Waste",
	"Pension & Benefits",
	"Staff Misbehavior",
	"Billing & Fees",
}

// --- Sessions ---

const sessionColumns = `id, state, name, email, phone, address, gender, ministry, category,
	subject, description, incident_date, classified_ministry, classified_category,
	message_count, tracking_number, error_reason, created_at, last_message_at, completed_at`

func scanSession(row *sql.Row) (Session, error) {
	var s Session
	var completedAt sql.NullTime
	err := row.Scan(
		&s.ID, &s.State, &s.Name, &s.Email, &s.Phone, &s.Address, &s.Gender,
		&s.Ministry, &s.Category, &s.Subject, &s.Description, &s.IncidentDate,
		&s.ClassifiedMinistry, &s.ClassifiedCategory,
		&s.MessageCount, &s.TrackingNumber, &s.ErrorReason,
		&s.CreatedAt, &s.LastMessageAt, &completedAt,
	)
	if completedAt.Valid {
		s.CompletedAt = completedAt.Time
	}
	return s, err
}

func GetSession(db *sql.DB, id string) (Session, error) {
	return scanSession(db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
}

// GetOrCreateSession loads the session for id, creating a fresh greeting
// session on first contact.
func GetOrCreateSession(db *sql.DB, id string) (Session, error) {
	s, err := GetSession(db, id)
	if err == nil {
		return s, nil
	}
	if err != sql.ErrNoRows {
		return Session{}, err
	}
	now := time.Now().UTC()
	_, err = db.Exec(
		`INSERT INTO sessions (id, state, created_at, last_message_at) VALUES (?, ?, ?, ?)`,
		id, StateGreeting, now, now,
	)
	if err != nil {
		return Session{}, err
	}
	return GetSession(db, id)
}

func UpdateSession(db *sql.DB, s Session) error {
	var completedAt any
	if !s.CompletedAt.IsZero() {
		completedAt = s.CompletedAt
	}
	_, err := db.Exec(
		`UPDATE sessions SET state = ?, name = ?, email = ?, phone = ?, address = ?, gender = ?,
		 ministry = ?, category = ?, subject = ?, description = ?, incident_date = ?,
		 classified_ministry = ?, classified_category = ?,
		 message_count = ?, tracking_number = ?, error_reason = ?,
		 last_message_at = ?, completed_at = ?
		 WHERE id = ?`,
		s.State, s.Name, s.Email, s.Phone, s.Address, s.Gender,
		s.Ministry, s.Category, s.Subject, s.Description, s.IncidentDate,
		s.ClassifiedMinistry, s.ClassifiedCategory,
		s.MessageCount, s.TrackingNumber, s.ErrorReason,
		s.LastMessageAt, completedAt,
		s.ID,
	)
	return err
}

// DeleteStaleSessions removes terminal sessions whose last activity is
// older than cutoff. Returns the number of sessions removed.
func DeleteStaleSessions(db *sql.DB, cutoff time.Time) (int64, error) {
	res, err := db.Exec(
		`DELETE FROM sessions WHERE state IN (?, ?) AND last_message_at < ?`,
		StateCompleted, StateError, cutoff,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Complaints ---

func InsertComplaint(db *sql.DB, c Complaint) (int64, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO complaints (tracking_number, name, email, phone, address, ministry, category,
		 subject, description, incident_date, status, priority)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.TrackingNumber, c.Name, c.Email, c.Phone, c.Address, c.Ministry, c.Category,
		c.Subject, c.Description, c.IncidentDate, StatusSubmitted, c.Priority,
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	_, err = tx.Exec(
		`INSERT INTO complaint_status_history (complaint_id, status, note, actor)
		 VALUES (?, ?, ?, ?)`,
		id, StatusSubmitted, "Complaint received", "system",
	)
	if err != nil {
		return 0, err
	}
	return id, tx.Commit()
}

func GetComplaintByTrackingNumber(db *sql.DB, trackingNumber string) (Complaint, error) {
	var c Complaint
	err := db.QueryRow(
		`SELECT id, tracking_number, name, email, phone, address, ministry, category,
		 subject, description, incident_date, status, priority, evidence_count, created_at, updated_at
		 FROM complaints WHERE UPPER(tracking_number) = UPPER(?)`,
		trackingNumber,
	).Scan(
		&c.ID, &c.TrackingNumber, &c.Name, &c.Email, &c.Phone, &c.Address,
		&c.Ministry, &c.Category, &c.Subject, &c.Description, &c.IncidentDate,
		&c.Status, &c.Priority, &c.EvidenceCount, &c.CreatedAt, &c.UpdatedAt,
	)
	return c, err
}

// UpdateComplaintStatus moves a complaint to a new status and appends the
// transition to its history in the same transaction.
func UpdateComplaintStatus(db *sql.DB, complaintID int64, status, note, actor string) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`UPDATE complaints SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		status, complaintID,
	); err != nil {
		return err
	}
	if _, err := tx.Exec(
		`INSERT INTO complaint_status_history (complaint_id, status, note, actor)
		 VALUES (?, ?, ?, ?)`,
		complaintID, status, note, actor,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func GetStatusHistory(db *sql.DB, complaintID int64, limit int) ([]StatusEntry, error) {
	rows, err := db.Query(
		`SELECT id, complaint_id, status, note, actor, created_at
		 FROM complaint_status_history
		 WHERE complaint_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		complaintID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []StatusEntry
	for rows.Next() {
		var e StatusEntry
		if err := rows.Scan(&e.ID, &e.ComplaintID, &e.Status, &e.Note, &e.Actor, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Taxonomy ---

func GetMinistries(db *sql.DB) ([]string, error) {
	return getNames(db, `SELECT name FROM ministries ORDER BY id`)
}

func GetCategories(db *sql.DB) ([]string, error) {
	return getNames(db, `SELECT name FROM categories ORDER BY id`)
}

func getNames(db *sql.DB, query string) ([]string, error) {
	rows, err := db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
