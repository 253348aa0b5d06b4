package feedback

// #region imports
import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// #endregion imports

// #region schema

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS interactions (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	intent_json TEXT NOT NULL,
	recommendations_json TEXT NOT NULL,
	usage_json TEXT NOT NULL,
	diagnostics_json TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_interactions_user ON interactions(user_id, created_at);

CREATE TABLE IF NOT EXISTS feedback_events (
	user_id TEXT NOT NULL,
	interaction_id TEXT NOT NULL,
	module_id TEXT NOT NULL,
	module_theme TEXT NOT NULL,
	action TEXT NOT NULL,
	rating INTEGER NOT NULL,
	comment TEXT NOT NULL,
	occurred_at TEXT NOT NULL,
	recorded_at TEXT NOT NULL,
	PRIMARY KEY (user_id, interaction_id, module_id)
);

CREATE INDEX IF NOT EXISTS idx_feedback_module ON feedback_events(user_id, module_id);
CREATE INDEX IF NOT EXISTS idx_feedback_theme ON feedback_events(user_id, module_theme);

CREATE TABLE IF NOT EXISTS profiles (
	user_id TEXT NOT NULL,
	key TEXT NOT NULL,
	affinity REAL NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (user_id, key)
);
`

// #endregion schema

// #region store

// tsFormat is RFC3339 with fixed-width nanoseconds. RFC3339Nano drops
// trailing zeros, which breaks the string comparisons on occurred_at and
// created_at: "…:05Z" would sort after the later "…:05.5Z".
const tsFormat = "2006-01-02T15:04:05.000000000Z07:00"

// ErrUnknownInteraction is returned when feedback references an interaction
// that was never persisted.
var ErrUnknownInteraction = errors.New("unknown interaction")

// Store persists interactions, feedback events, and the decayed affinity
// profiles derived from them, backed by sqlite.
type Store struct {
	db    *sql.DB
	decay float64
}

// NewStore opens (creating if needed) the feedback store at path. decay is
// the exponential affinity decay factor in (0, 1).
func NewStore(path string, decay float64) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open feedback store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init feedback schema: %w", err)
	}
	return &Store{db: db, decay: decay}, nil
}

// NewStoreWithDB wraps an existing database handle. The schema is applied
// idempotently.
func NewStoreWithDB(db *sql.DB, decay float64) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("init feedback schema: %w", err)
	}
	return &Store{db: db, decay: decay}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// #endregion store

// #region interactions

// AppendInteraction persists one engine invocation. Interactions are
// immutable once written; re-inserting an existing id is an error.
func (s *Store) AppendInteraction(ctx context.Context, it Interaction) error {
	if it.ID == "" {
		return errors.New("append interaction: empty id")
	}
	intentJSON, err := json.Marshal(it.Intent)
	if err != nil {
		return fmt.Errorf("encode intent: %w", err)
	}
	recsJSON, err := json.Marshal(it.Recommendations)
	if err != nil {
		return fmt.Errorf("encode recommendations: %w", err)
	}
	usageJSON, err := json.Marshal(it.Usage)
	if err != nil {
		return fmt.Errorf("encode usage: %w", err)
	}
	diagJSON, err := json.Marshal(it.Diagnostics)
	if err != nil {
		return fmt.Errorf("encode diagnostics: %w", err)
	}
	created := it.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO interactions (id, conversation_id, user_id, intent_json, recommendations_json, usage_json, diagnostics_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		it.ID, it.ConversationID, it.UserID,
		string(intentJSON), string(recsJSON), string(usageJSON), string(diagJSON),
		created.UTC().Format(tsFormat))
	if err != nil {
		return fmt.Errorf("append interaction: %w", err)
	}
	return nil
}

// GetInteraction loads one interaction by id. The second return is false
// when the id is unknown.
func (s *Store) GetInteraction(ctx context.Context, id string) (Interaction, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, user_id, intent_json, recommendations_json, usage_json, diagnostics_json, created_at
		FROM interactions WHERE id = ?`, id)
	it, err := scanInteraction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Interaction{}, false, nil
	}
	if err != nil {
		return Interaction{}, false, err
	}
	return it, true, nil
}

// RecentByUser returns the user's most recent interactions, newest first,
// capped at limit.
func (s *Store) RecentByUser(ctx context.Context, userID string, limit int) ([]Interaction, error) {
	if limit < 1 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, user_id, intent_json, recommendations_json, usage_json, diagnostics_json, created_at
		FROM interactions WHERE user_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list interactions: %w", err)
	}
	defer rows.Close()

	var out []Interaction
	for rows.Next() {
		it, err := scanInteraction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInteraction(row rowScanner) (Interaction, error) {
	var it Interaction
	var intentJSON, recsJSON, usageJSON, diagJSON, createdAt string
	err := row.Scan(&it.ID, &it.ConversationID, &it.UserID,
		&intentJSON, &recsJSON, &usageJSON, &diagJSON, &createdAt)
	if err != nil {
		return Interaction{}, err
	}
	if err := json.Unmarshal([]byte(intentJSON), &it.Intent); err != nil {
		return Interaction{}, fmt.Errorf("decode intent: %w", err)
	}
	if err := json.Unmarshal([]byte(recsJSON), &it.Recommendations); err != nil {
		return Interaction{}, fmt.Errorf("decode recommendations: %w", err)
	}
	if err := json.Unmarshal([]byte(usageJSON), &it.Usage); err != nil {
		return Interaction{}, fmt.Errorf("decode usage: %w", err)
	}
	if err := json.Unmarshal([]byte(diagJSON), &it.Diagnostics); err != nil {
		return Interaction{}, fmt.Errorf("decode diagnostics: %w", err)
	}
	if it.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return Interaction{}, fmt.Errorf("decode created_at: %w", err)
	}
	return it, nil
}

// #endregion interactions

// #region record

// Record applies one feedback event. The operation is idempotent and
// commutative: for a given (user, interaction, module) key only the event
// with the latest occurred_at survives, and affinities are recomputed from
// the full event history in chronological order, so replaying events in any
// order converges to the same profile.
func (s *Store) Record(ctx context.Context, fb Feedback) error {
	if fb.UserID == "" || fb.InteractionID == "" || fb.ModuleID == "" {
		return errors.New("record feedback: empty user, interaction, or module id")
	}
	if fb.OccurredAt.IsZero() {
		fb.OccurredAt = time.Now().UTC()
	}
	occurred := fb.OccurredAt.UTC().Format(tsFormat)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record feedback: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM interactions WHERE id = ?`, fb.InteractionID).Scan(&exists); err != nil {
		return fmt.Errorf("record feedback: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("record feedback for %q: %w", fb.InteractionID, ErrUnknownInteraction)
	}

	var prior string
	err = tx.QueryRowContext(ctx, `
		SELECT occurred_at FROM feedback_events
		WHERE user_id = ? AND interaction_id = ? AND module_id = ?`,
		fb.UserID, fb.InteractionID, fb.ModuleID).Scan(&prior)
	switch {
	case err == nil:
		// Supersede only; a stale or duplicate event is dropped.
		if prior >= occurred {
			return tx.Commit()
		}
	case errors.Is(err, sql.ErrNoRows):
	default:
		return fmt.Errorf("record feedback: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO feedback_events (user_id, interaction_id, module_id, module_theme, action, rating, comment, occurred_at, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, interaction_id, module_id) DO UPDATE SET
			module_theme = excluded.module_theme,
			action = excluded.action,
			rating = excluded.rating,
			comment = excluded.comment,
			occurred_at = excluded.occurred_at,
			recorded_at = excluded.recorded_at`,
		fb.UserID, fb.InteractionID, fb.ModuleID, fb.ModuleTheme,
		string(fb.Action), fb.Rating, fb.Comment,
		occurred, time.Now().UTC().Format(tsFormat))
	if err != nil {
		return fmt.Errorf("record feedback: %w", err)
	}

	if err := s.refold(ctx, tx, fb.UserID, moduleKey(fb.ModuleID),
		`module_id = ?`, fb.ModuleID); err != nil {
		return err
	}
	if fb.ModuleTheme != "" {
		if err := s.refold(ctx, tx, fb.UserID, themeKey(fb.ModuleTheme),
			`module_theme = ?`, fb.ModuleTheme); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// refold recomputes one affinity key from that user's surviving events in
// chronological order: a = a*decay + (1-decay)*signal.
func (s *Store) refold(ctx context.Context, tx *sql.Tx, userID, key, where string, arg any) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT action, rating FROM feedback_events
		WHERE user_id = ? AND `+where+`
		ORDER BY occurred_at ASC, interaction_id ASC, module_id ASC`,
		userID, arg)
	if err != nil {
		return fmt.Errorf("refold %s: %w", key, err)
	}
	defer rows.Close()

	var affinity float64
	for rows.Next() {
		var action string
		var rating int
		if err := rows.Scan(&action, &rating); err != nil {
			return fmt.Errorf("refold %s: %w", key, err)
		}
		affinity = affinity*s.decay + (1-s.decay)*signal(Action(action), rating)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("refold %s: %w", key, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO profiles (user_id, key, affinity, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, key) DO UPDATE SET
			affinity = excluded.affinity,
			updated_at = excluded.updated_at`,
		userID, key, affinity, time.Now().UTC().Format(tsFormat))
	if err != nil {
		return fmt.Errorf("refold %s: %w", key, err)
	}
	return nil
}

// #endregion record

// #region profiles

// GetProfile loads the user's affinity map. A user with no feedback history
// yields an empty profile, not an error.
func (s *Store) GetProfile(ctx context.Context, userID string) (Profile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, affinity FROM profiles WHERE user_id = ?`, userID)
	if err != nil {
		return Profile{}, fmt.Errorf("load profile: %w", err)
	}
	defer rows.Close()

	p := Profile{UserID: userID, Affinities: map[string]float64{}}
	for rows.Next() {
		var key string
		var affinity float64
		if err := rows.Scan(&key, &affinity); err != nil {
			return Profile{}, fmt.Errorf("load profile: %w", err)
		}
		p.Affinities[key] = affinity
	}
	return p, rows.Err()
}

// #endregion profiles

// #region trending

// TrendingEntry is one module in the trending ranking with its positive
// feedback count over the window.
type TrendingEntry struct {
	ModuleID string `json:"module_id"`
	Count    int    `json:"count"`
}

// Trending ranks modules by positive feedback (deployments, acceptances,
// ratings of 4 or more) within the window, count descending then module id
// ascending.
func (s *Store) Trending(ctx context.Context, window time.Duration, limit int) ([]TrendingEntry, error) {
	if limit < 1 {
		limit = 10
	}
	since := time.Now().UTC().Add(-window).Format(tsFormat)
	rows, err := s.db.QueryContext(ctx, `
		SELECT module_id, COUNT(*) AS n FROM feedback_events
		WHERE occurred_at >= ?
		  AND (action IN ('deployed', 'accepted') OR (action = 'rating' AND rating >= 4))
		GROUP BY module_id
		ORDER BY n DESC, module_id ASC
		LIMIT ?`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("trending: %w", err)
	}
	defer rows.Close()

	var out []TrendingEntry
	for rows.Next() {
		var e TrendingEntry
		if err := rows.Scan(&e.ModuleID, &e.Count); err != nil {
			return nil, fmt.Errorf("trending: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// #endregion trending
