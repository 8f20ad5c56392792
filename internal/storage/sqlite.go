package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pulsewatch/signals-bot/internal/aggregate"
	"github.com/pulsewatch/signals-bot/internal/models"

	_ "modernc.org/sqlite"
)

// conflictRetries bounds retry attempts on busy/conflicting writes
// before surfacing ErrConflict.
const conflictRetries = 3

// SQLiteStore is the Store implementation backed by modernc.org/sqlite.
// All methods are safe for concurrent use via an internal mutex.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ Store = (*SQLiteStore)(nil)

// Open creates a SQLiteStore at dbPath, creating tables as needed.
// Pass ":memory:" for an ephemeral database (tests).
func Open(dbPath string) (*SQLiteStore, error) {
	connStr := dbPath
	if dbPath == ":memory:" {
		// Shared cache so every pooled connection sees the same database.
		connStr = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if dbPath != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS mentions (
		id TEXT PRIMARY KEY,
		target_id TEXT NOT NULL,
		source TEXT NOT NULL,
		url TEXT,
		title TEXT NOT NULL,
		content TEXT,
		category TEXT,
		sentiment TEXT,
		published_at DATETIME,
		collected_at DATETIME NOT NULL,
		effective_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_mentions_target_effective ON mentions(target_id, effective_at);

	CREATE TABLE IF NOT EXISTS prediction_signals (
		id TEXT PRIMARY KEY,
		target_id TEXT NOT NULL,
		target_name TEXT NOT NULL,
		target_type TEXT NOT NULL,
		signal_type TEXT NOT NULL,
		signal_strength INTEGER NOT NULL,
		confidence_score INTEGER NOT NULL,
		pattern_description TEXT NOT NULL,
		time_window_days INTEGER NOT NULL,
		supporting_article_ids TEXT NOT NULL,
		article_count INTEGER NOT NULL,
		first_mention DATETIME NOT NULL,
		latest_mention DATETIME NOT NULL,
		category_distribution TEXT NOT NULL,
		primary_category TEXT NOT NULL,
		should_predict INTEGER NOT NULL,
		prediction_type TEXT NOT NULL,
		recommendation TEXT NOT NULL,
		status TEXT NOT NULL,
		detected_at DATETIME NOT NULL,
		detected_week TEXT NOT NULL,
		UNIQUE(target_id, signal_type, time_window_days, detected_week)
	);

	CREATE TABLE IF NOT EXISTS predictions (
		id TEXT PRIMARY KEY,
		signal_id TEXT NOT NULL UNIQUE,
		target_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL,
		confidence_score INTEGER NOT NULL,
		impact_level TEXT NOT NULL,
		category TEXT NOT NULL,
		time_horizon TEXT NOT NULL,
		next_check_at DATETIME NOT NULL,
		status TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_predictions_next_check ON predictions(next_check_at);

	CREATE TABLE IF NOT EXISTS opportunities (
		id TEXT PRIMARY KEY,
		target_id TEXT NOT NULL,
		title TEXT NOT NULL,
		title_normalized TEXT NOT NULL,
		description TEXT,
		category TEXT,
		score INTEGER NOT NULL,
		urgency TEXT NOT NULL,
		stakeholder_campaigns TEXT NOT NULL,
		fallback_used INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE(target_id, title_normalized)
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// SaveMentions inserts mentions, ignoring duplicate ids.
func (s *SQLiteStore) SaveMentions(mentions []models.Mention) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(mentions) == 0 {
		return 0, nil
	}

	stmt, err := s.db.Prepare(`
		INSERT OR IGNORE INTO mentions (
			id, target_id, source, url, title, content, category, sentiment,
			published_at, collected_at, effective_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	newCount := 0
	for _, m := range mentions {
		var published interface{}
		if m.PublishedAt != nil {
			published = *m.PublishedAt
		}
		result, err := stmt.Exec(
			m.ID, m.TargetID, m.Source, m.URL, m.Title, m.Content,
			m.Category, m.Sentiment, published, m.CollectedAt, m.EffectiveTime(),
		)
		if err != nil {
			return newCount, err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return newCount, err
		}
		if affected > 0 {
			newCount++
		}
	}

	return newCount, nil
}

// MentionsSince returns a target's mentions on or after since.
func (s *SQLiteStore) MentionsSince(targetID string, since time.Time) ([]models.Mention, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, target_id, source, url, title, content, category, sentiment,
		       published_at, collected_at
		FROM mentions
		WHERE target_id = ? AND effective_at >= ?
		ORDER BY effective_at ASC
	`, targetID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Mention
	for rows.Next() {
		var m models.Mention
		var published sql.NullTime
		if err := rows.Scan(&m.ID, &m.TargetID, &m.Source, &m.URL, &m.Title,
			&m.Content, &m.Category, &m.Sentiment, &published, &m.CollectedAt); err != nil {
			return nil, err
		}
		if published.Valid {
			t := published.Time
			m.PublishedAt = &t
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpsertPredictionSignal writes a signal, deduplicating on the detection
// key. Updates preserve the stored id.
func (s *SQLiteStore) UpsertPredictionSignal(signal *models.PredictionSignal) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	week := aggregate.WeekOf(signal.DetectedAt).String()

	articleIDs, err := json.Marshal(signal.SupportingArticleIDs)
	if err != nil {
		return false, fmt.Errorf("marshal article ids: %w", err)
	}
	distribution, err := json.Marshal(signal.CategoryDistribution)
	if err != nil {
		return false, fmt.Errorf("marshal distribution: %w", err)
	}

	created := false
	err = s.withRetry(func() error {
		var existingID string
		err := s.db.QueryRow(`
			SELECT id FROM prediction_signals
			WHERE target_id = ? AND signal_type = ? AND time_window_days = ? AND detected_week = ?
		`, signal.TargetID, signal.SignalType, signal.TimeWindowDays, week).Scan(&existingID)

		switch {
		case err == sql.ErrNoRows:
			_, err := s.db.Exec(`
				INSERT INTO prediction_signals (
					id, target_id, target_name, target_type, signal_type,
					signal_strength, confidence_score, pattern_description,
					time_window_days, supporting_article_ids, article_count,
					first_mention, latest_mention, category_distribution,
					primary_category, should_predict, prediction_type,
					recommendation, status, detected_at, detected_week
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, signal.ID, signal.TargetID, signal.TargetName, signal.TargetType,
				signal.SignalType, signal.SignalStrength, signal.ConfidenceScore,
				signal.PatternDescription, signal.TimeWindowDays, string(articleIDs),
				signal.ArticleCount, signal.FirstMention, signal.LatestMention,
				string(distribution), signal.PrimaryCategory, boolToInt(signal.ShouldPredict),
				string(signal.PredictionType), signal.Recommendation,
				string(signal.Status), signal.DetectedAt, week)
			if err == nil {
				created = true
			}
			return err
		case err != nil:
			return err
		default:
			signal.ID = existingID
			_, err := s.db.Exec(`
				UPDATE prediction_signals SET
					signal_strength = ?, confidence_score = ?, pattern_description = ?,
					supporting_article_ids = ?, article_count = ?, first_mention = ?,
					latest_mention = ?, category_distribution = ?, primary_category = ?,
					should_predict = ?, prediction_type = ?, recommendation = ?,
					status = ?, detected_at = ?
				WHERE id = ?
			`, signal.SignalStrength, signal.ConfidenceScore, signal.PatternDescription,
				string(articleIDs), signal.ArticleCount, signal.FirstMention,
				signal.LatestMention, string(distribution), signal.PrimaryCategory,
				boolToInt(signal.ShouldPredict), string(signal.PredictionType),
				signal.Recommendation, string(signal.Status), signal.DetectedAt,
				existingID)
			return err
		}
	})

	return created, err
}

// SavePrediction stores a prediction projection.
func (s *SQLiteStore) SavePrediction(p *models.Prediction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO predictions (
			id, signal_id, target_id, title, description, confidence_score,
			impact_level, category, time_horizon, next_check_at, status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.SignalID, p.TargetID, p.Title, p.Description, p.ConfidenceScore,
		string(p.ImpactLevel), string(p.Category), string(p.TimeHorizon),
		p.NextCheckAt, string(p.Status))
	return err
}

// PredictionBySignal returns the prediction derived from a signal.
func (s *SQLiteStore) PredictionBySignal(signalID string) (*models.Prediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, err := s.scanPrediction(s.db.QueryRow(predictionSelect+` WHERE signal_id = ?`, signalID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

// UpdatePredictionCheck reschedules a prediction after evaluation.
func (s *SQLiteStore) UpdatePredictionCheck(id string, nextCheckAt time.Time, confidence int, status models.SignalStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(`
		UPDATE predictions SET next_check_at = ?, confidence_score = ?, status = ?
		WHERE id = ?
	`, nextCheckAt, confidence, string(status), id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("prediction %s not found", id)
	}
	return nil
}

// DuePredictions returns active predictions due for re-evaluation.
func (s *SQLiteStore) DuePredictions(now time.Time) ([]models.Prediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(predictionSelect+`
		WHERE status = ? AND next_check_at <= ?
		ORDER BY next_check_at ASC
	`, string(models.StatusActive), now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Prediction
	for rows.Next() {
		p, err := s.scanPrediction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// UpsertOpportunity writes an opportunity, merging into any existing row
// with the same (target_id, normalized title).
func (s *SQLiteStore) UpsertOpportunity(o *models.Opportunity) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	normalized := strings.ToLower(strings.TrimSpace(o.Title))
	campaigns, err := json.Marshal(o.StakeholderCampaigns)
	if err != nil {
		return false, fmt.Errorf("marshal campaigns: %w", err)
	}

	created := false
	err = s.withRetry(func() error {
		var existingID string
		var existingCreated time.Time
		err := s.db.QueryRow(`
			SELECT id, created_at FROM opportunities
			WHERE target_id = ? AND title_normalized = ?
		`, o.TargetID, normalized).Scan(&existingID, &existingCreated)

		switch {
		case err == sql.ErrNoRows:
			_, err := s.db.Exec(`
				INSERT INTO opportunities (
					id, target_id, title, title_normalized, description, category,
					score, urgency, stakeholder_campaigns, fallback_used,
					created_at, updated_at
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, o.ID, o.TargetID, o.Title, normalized, o.Description, o.Category,
				o.Score, string(o.Urgency), string(campaigns), boolToInt(o.FallbackUsed),
				o.CreatedAt, o.UpdatedAt)
			if err == nil {
				created = true
			}
			return err
		case err != nil:
			return err
		default:
			// Merge: incoming fields win, identity and created_at stay.
			o.ID = existingID
			o.CreatedAt = existingCreated
			_, err := s.db.Exec(`
				UPDATE opportunities SET
					title = ?, description = ?, category = ?, score = ?,
					urgency = ?, stakeholder_campaigns = ?, fallback_used = ?,
					updated_at = ?
				WHERE id = ?
			`, o.Title, o.Description, o.Category, o.Score, string(o.Urgency),
				string(campaigns), boolToInt(o.FallbackUsed), o.UpdatedAt, existingID)
			return err
		}
	})

	return created, err
}

// GetOpportunity looks up an opportunity by its dedup key.
func (s *SQLiteStore) GetOpportunity(targetID, title string) (*models.Opportunity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	normalized := strings.ToLower(strings.TrimSpace(title))

	var o models.Opportunity
	var urgency, campaigns string
	var fallback int
	err := s.db.QueryRow(`
		SELECT id, target_id, title, description, category, score, urgency,
		       stakeholder_campaigns, fallback_used, created_at, updated_at
		FROM opportunities
		WHERE target_id = ? AND title_normalized = ?
	`, targetID, normalized).Scan(&o.ID, &o.TargetID, &o.Title, &o.Description,
		&o.Category, &o.Score, &urgency, &campaigns, &fallback, &o.CreatedAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	o.Urgency = models.OpportunityUrgency(urgency)
	o.FallbackUsed = fallback != 0
	if err := json.Unmarshal([]byte(campaigns), &o.StakeholderCampaigns); err != nil {
		return nil, fmt.Errorf("unmarshal campaigns: %w", err)
	}
	return &o, nil
}

const predictionSelect = `
	SELECT id, signal_id, target_id, title, description, confidence_score,
	       impact_level, category, time_horizon, next_check_at, status
	FROM predictions`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *SQLiteStore) scanPrediction(row rowScanner) (*models.Prediction, error) {
	var p models.Prediction
	var impact, category, horizon, status string
	if err := row.Scan(&p.ID, &p.SignalID, &p.TargetID, &p.Title, &p.Description,
		&p.ConfidenceScore, &impact, &category, &horizon, &p.NextCheckAt, &status); err != nil {
		return nil, err
	}

	// Enum columns are validated on the way out so a corrupted row fails
	// loudly instead of flowing through as an unknown value.
	impactLevel, err := models.ParseImpactLevel(impact)
	if err != nil {
		return nil, fmt.Errorf("prediction %s: %w", p.ID, err)
	}
	timeHorizon, err := models.ParseTimeHorizon(horizon)
	if err != nil {
		return nil, fmt.Errorf("prediction %s: %w", p.ID, err)
	}

	p.ImpactLevel = impactLevel
	p.TimeHorizon = timeHorizon
	p.Category = models.PredictionCategory(category)
	p.Status = models.SignalStatus(status)
	return &p, nil
}

// withRetry retries fn on transient lock/conflict errors with a short
// backoff, surfacing ErrConflict when attempts are exhausted.
func (s *SQLiteStore) withRetry(fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < conflictRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isTransient(lastErr) {
			return lastErr
		}
		backoff := time.Duration(attempt+1) * 50 * time.Millisecond
		logrus.Warnf("Storage conflict (attempt %d/%d), retrying in %v: %v", attempt+1, conflictRetries, backoff, lastErr)
		time.Sleep(backoff)
	}
	return fmt.Errorf("%w: %v", ErrConflict, lastErr)
}

func isTransient(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
