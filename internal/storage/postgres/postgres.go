package postgres

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	json "github.com/goccy/go-json"
	_ "github.com/lib/pq"

	"github.com/tillerbot/tiller/internal/config"
)

// Open connects to Postgres using the PG* environment variables. The
// password honors the *_FILE secret convention. Callers own the handle
// and share it between the event store and the knowledge base.
func Open() (*sql.DB, error) {
	host := getEnv("PGHOST", "127.0.0.1")
	port := getEnv("PGPORT", "5432")
	user := getEnv("PGUSER", "tiller")
	dbname := getEnv("PGDATABASE", "tiller")

	password, err := config.ResolveSecret("PGPASSWORD")
	if err != nil {
		return nil, err
	}

	connStr := fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=disable",
		host, port, user, dbname)
	if password != "" {
		connStr += fmt.Sprintf(" password=%s", password)
	}

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// EventRow is one persisted engine event.
type EventRow struct {
	EventID   int64          `json:"event_id"`
	Timestamp time.Time      `json:"ts"`
	Level     string         `json:"level"`
	Event     string         `json:"event"`
	Message   *string        `json:"msg,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
	RobotID   string         `json:"robot_id"`
	MissionID *string        `json:"mission_id,omitempty"`
}

// EventStore appends engine events to Postgres. The database handle is
// shared and owned by the caller.
type EventStore struct {
	db      *sql.DB
	robotID string
}

// NewEventStore ensures the events table exists and returns a store
// that tags every row with robotID.
func NewEventStore(db *sql.DB, robotID string) (*EventStore, error) {
	s := &EventStore{db: db, robotID: robotID}
	if err := s.createTable(); err != nil {
		return nil, fmt.Errorf("create events table: %w", err)
	}
	return s, nil
}

func (s *EventStore) createTable() error {
	query := `
		CREATE TABLE IF NOT EXISTS events (
			event_id   BIGSERIAL PRIMARY KEY,
			ts         TIMESTAMPTZ NOT NULL,
			level      TEXT NOT NULL,
			event      TEXT NOT NULL,
			msg        TEXT,
			fields     JSONB,
			robot_id   TEXT NOT NULL,
			mission_id TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts DESC);
		CREATE INDEX IF NOT EXISTS idx_events_robot_id ON events(robot_id);
	`
	_, err := s.db.Exec(query)
	return err
}

// Append inserts one event row.
func (s *EventStore) Append(ts time.Time, level, event, msg string, fields map[string]any, missionID string) error {
	var fieldsJSON []byte
	if fields != nil {
		b, err := json.Marshal(fields)
		if err != nil {
			return fmt.Errorf("marshal fields: %w", err)
		}
		fieldsJSON = b
	}

	var msgPtr *string
	if msg != "" {
		msgPtr = &msg
	}
	var missionPtr *string
	if missionID != "" {
		missionPtr = &missionID
	}

	query := `
		INSERT INTO events (ts, level, event, msg, fields, robot_id, mission_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.Exec(query, ts, level, event, msgPtr, fieldsJSON, s.robotID, missionPtr)
	return err
}

// Query returns the newest limit events for this robot, most recent
// first.
func (s *EventStore) Query(limit int) ([]EventRow, error) {
	if limit <= 0 {
		limit = 200
	}
	if limit > 10000 {
		limit = 10000
	}

	query := `
		SELECT event_id, ts, level, event, msg, fields, robot_id, mission_id
		FROM events
		WHERE robot_id = $1
		ORDER BY ts DESC
		LIMIT $2
	`
	rows, err := s.db.Query(query, s.robotID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		var fieldsJSON []byte
		var msg, missionID sql.NullString

		if err := rows.Scan(&e.EventID, &e.Timestamp, &e.Level, &e.Event, &msg, &fieldsJSON, &e.RobotID, &missionID); err != nil {
			return nil, err
		}
		if msg.Valid {
			e.Message = &msg.String
		}
		if missionID.Valid {
			e.MissionID = &missionID.String
		}
		if len(fieldsJSON) > 0 {
			if err := json.Unmarshal(fieldsJSON, &e.Fields); err != nil {
				return nil, fmt.Errorf("unmarshal fields: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
