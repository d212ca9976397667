package db

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

var database *sql.DB

// ErrSessionNotFound is returned when a session id does not exist.
var ErrSessionNotFound = errors.New("session not found")

// Session is one practice session of a single pose.
type Session struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	Pose          string     `json:"pose"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	TotalFrames   int        `json:"total_frames"`
	CorrectFrames int        `json:"correct_frames"`
	Accuracy      float64    `json:"accuracy"`
}

// DetectionRecord is one classified frame attributed to a session.
type DetectionRecord struct {
	SessionID  string    `json:"session_id"`
	Pose       string    `json:"pose"`
	Stage      string    `json:"stage"`
	Confidence float64   `json:"confidence"`
	IsCorrect  bool      `json:"is_correct"`
	HasError   bool      `json:"has_error"`
	DetectedAt time.Time `json:"detected_at"`
}

// PracticeStats aggregates a user's whole practice history.
type PracticeStats struct {
	UserID            string         `json:"user_id"`
	TotalSessions     int            `json:"total_sessions"`
	CompletedSessions int            `json:"completed_sessions"`
	TotalSeconds      int64          `json:"total_practice_seconds"`
	AverageAccuracy   float64        `json:"average_accuracy"`
	LongestStreakDays int            `json:"longest_streak_days"`
	PoseCounts        map[string]int `json:"pose_counts"`
}

// InitDB initializes the SQLite database
func InitDB(path string) error {
	var err error
	database, err = sql.Open("sqlite3", path)
	if err != nil {
		return err
	}
	// Single connection: sqlite serializes writers on the file anyway.
	database.SetMaxOpenConns(1)

	query := `
    CREATE TABLE IF NOT EXISTS yoga_sessions (
        id TEXT PRIMARY KEY,
        user_id TEXT NOT NULL,
        pose TEXT NOT NULL,
        started_at DATETIME NOT NULL,
        ended_at DATETIME,
        total_frames INTEGER DEFAULT 0,
        correct_frames INTEGER DEFAULT 0,
        accuracy REAL DEFAULT 0
    );
    CREATE TABLE IF NOT EXISTS pose_detections (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        session_id TEXT NOT NULL,
        pose TEXT NOT NULL,
        stage TEXT NOT NULL,
        confidence REAL NOT NULL,
        is_correct INTEGER NOT NULL DEFAULT 0,
        has_error INTEGER NOT NULL DEFAULT 0,
        detected_at DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_sessions_user ON yoga_sessions(user_id, started_at);
    CREATE INDEX IF NOT EXISTS idx_detections_session ON pose_detections(session_id);
    `

	_, err = database.Exec(query)
	return err
}

// CloseDB closes the underlying database handle.
func CloseDB() error {
	if database == nil {
		return nil
	}
	return database.Close()
}

// Ping reports whether the database is initialized and reachable.
func Ping() error {
	if database == nil {
		return errors.New("database not initialized")
	}
	return database.Ping()
}

// StartSession creates a new practice session and returns it.
func StartSession(userID, pose string) (Session, error) {
	return startSessionAt(userID, pose, time.Now().UTC())
}

func startSessionAt(userID, pose string, at time.Time) (Session, error) {
	if database == nil {
		return Session{}, errors.New("database not initialized")
	}
	if userID == "" {
		return Session{}, errors.New("user id required")
	}
	if pose == "" {
		return Session{}, errors.New("pose required")
	}

	s := Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Pose:      pose,
		StartedAt: at,
	}
	_, err := database.Exec(`
        INSERT INTO yoga_sessions (id, user_id, pose, started_at)
        VALUES (?, ?, ?, ?)`,
		s.ID, s.UserID, s.Pose, s.StartedAt)
	if err != nil {
		return Session{}, err
	}
	return s, nil
}

// GetSession loads a single session by id.
func GetSession(id string) (Session, error) {
	if database == nil {
		return Session{}, errors.New("database not initialized")
	}
	row := database.QueryRow(`
        SELECT id, user_id, pose, started_at, ended_at, total_frames, correct_frames, accuracy
        FROM yoga_sessions
        WHERE id = ?`, id)
	return scanSession(row)
}

// RecordDetection stores one classified frame and updates the session counters.
func RecordDetection(rec DetectionRecord) error {
	return SaveDetections([]DetectionRecord{rec})
}

// SaveDetections stores a batch of classified frames in one transaction.
// Session frame counters and the stored accuracy are updated alongside.
func SaveDetections(records []DetectionRecord) error {
	if database == nil {
		return errors.New("database not initialized")
	}
	if len(records) == 0 {
		return nil
	}

	tx, err := database.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
        INSERT INTO pose_detections (session_id, pose, stage, confidence, is_correct, has_error, detected_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)
    `)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	type counters struct {
		total   int
		correct int
	}
	perSession := make(map[string]counters)

	for _, rec := range records {
		if rec.SessionID == "" {
			tx.Rollback()
			return errors.New("session id required")
		}
		at := rec.DetectedAt
		if at.IsZero() {
			at = time.Now().UTC()
		}
		if _, err := stmt.Exec(rec.SessionID, rec.Pose, rec.Stage, rec.Confidence, rec.IsCorrect, rec.HasError, at); err != nil {
			tx.Rollback()
			return err
		}
		c := perSession[rec.SessionID]
		c.total++
		if rec.IsCorrect {
			c.correct++
		}
		perSession[rec.SessionID] = c
	}

	for sessionID, c := range perSession {
		_, err := tx.Exec(`
            UPDATE yoga_sessions
            SET total_frames = total_frames + ?,
                correct_frames = correct_frames + ?,
                accuracy = (correct_frames + ?) * 100.0 / (total_frames + ?)
            WHERE id = ?`,
			c.total, c.correct, c.correct, c.total, sessionID)
		if err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// EndSession marks a session finished and returns its final summary.
// Ending an already finished session keeps the original end time.
func EndSession(id string) (Session, error) {
	return endSessionAt(id, time.Now().UTC())
}

func endSessionAt(id string, at time.Time) (Session, error) {
	if database == nil {
		return Session{}, errors.New("database not initialized")
	}
	res, err := database.Exec(`
        UPDATE yoga_sessions
        SET ended_at = COALESCE(ended_at, ?)
        WHERE id = ?`, at, id)
	if err != nil {
		return Session{}, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return Session{}, ErrSessionNotFound
	}
	return GetSession(id)
}

// SessionHistory returns a user's sessions, newest first.
func SessionHistory(userID string, limit int) ([]Session, error) {
	if database == nil {
		return nil, errors.New("database not initialized")
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := database.Query(`
        SELECT id, user_id, pose, started_at, ended_at, total_frames, correct_frames, accuracy
        FROM yoga_sessions
        WHERE user_id = ?
        ORDER BY started_at DESC
        LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := make([]Session, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// UserStats aggregates all of a user's sessions into practice statistics.
// The streak counts consecutive UTC days with at least one session.
func UserStats(userID string) (PracticeStats, error) {
	if database == nil {
		return PracticeStats{}, errors.New("database not initialized")
	}
	rows, err := database.Query(`
        SELECT id, user_id, pose, started_at, ended_at, total_frames, correct_frames, accuracy
        FROM yoga_sessions
        WHERE user_id = ?
        ORDER BY started_at ASC`, userID)
	if err != nil {
		return PracticeStats{}, err
	}
	defer rows.Close()

	stats := PracticeStats{
		UserID:     userID,
		PoseCounts: make(map[string]int),
	}
	var accuracySum float64
	var scoredSessions int
	days := make(map[string]struct{})

	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return PracticeStats{}, err
		}
		stats.TotalSessions++
		stats.PoseCounts[s.Pose]++
		days[s.StartedAt.UTC().Format("2006-01-02")] = struct{}{}
		if s.EndedAt != nil {
			stats.CompletedSessions++
			stats.TotalSeconds += int64(s.EndedAt.Sub(s.StartedAt).Seconds())
		}
		if s.TotalFrames > 0 {
			accuracySum += s.Accuracy
			scoredSessions++
		}
	}
	if err := rows.Err(); err != nil {
		return PracticeStats{}, err
	}

	if scoredSessions > 0 {
		stats.AverageAccuracy = accuracySum / float64(scoredSessions)
	}
	stats.LongestStreakDays = longestStreak(days)
	return stats, nil
}

// longestStreak returns the longest run of consecutive days in the set.
func longestStreak(days map[string]struct{}) int {
	best := 0
	for day := range days {
		start, err := time.Parse("2006-01-02", day)
		if err != nil {
			continue
		}
		// Runs are only counted from their first day.
		if _, ok := days[start.AddDate(0, 0, -1).Format("2006-01-02")]; ok {
			continue
		}
		run := 1
		next := start.AddDate(0, 0, 1)
		for {
			if _, ok := days[next.Format("2006-01-02")]; !ok {
				break
			}
			run++
			next = next.AddDate(0, 0, 1)
		}
		if run > best {
			best = run
		}
	}
	return best
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (Session, error) {
	var s Session
	var ended sql.NullTime
	err := row.Scan(&s.ID, &s.UserID, &s.Pose, &s.StartedAt, &ended,
		&s.TotalFrames, &s.CorrectFrames, &s.Accuracy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrSessionNotFound
		}
		return Session{}, err
	}
	if ended.Valid {
		t := ended.Time
		s.EndedAt = &t
	}
	return s, nil
}
