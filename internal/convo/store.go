package convo

// #region imports
import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/buildingos/module-advisor/internal/intent"
)

// #endregion imports

// #region schema

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	status TEXT NOT NULL,
	intent_json TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS turns (
	conversation_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	interaction_id TEXT NOT NULL,
	created_at TEXT NOT NULL,
	PRIMARY KEY (conversation_id, seq)
);
`

// #endregion schema

// #region types

// Conversation status values.
const (
	StatusNew    = "new"
	StatusActive = "active"
)

// Conversation is a multi-turn advisory session. Intent accumulates across
// turns; a later turn refines rather than replaces it.
type Conversation struct {
	ID        string        `json:"id"`
	UserID    string        `json:"user_id"`
	Status    string        `json:"status"`
	Intent    intent.Intent `json:"intent"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Turn is one exchange inside a conversation.
type Turn struct {
	Seq           int       `json:"seq"`
	Role          string    `json:"role"`
	Content       string    `json:"content"`
	InteractionID string    `json:"interaction_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// #endregion types

// #region merge

// MergeIntent folds a freshly extracted intent into the conversation's prior
// one. Non-empty fields of next win; prior constraints and target metrics
// persist unless the new turn restates them.
func MergeIntent(prior, next intent.Intent) intent.Intent {
	merged := prior
	if next.Goal != "" {
		merged.Goal = next.Goal
	}
	if next.Persona != "" {
		merged.Persona = next.Persona
	}
	if next.BuildingScale != "" {
		merged.BuildingScale = next.BuildingScale
	}
	if next.Theme != "" {
		merged.Theme = next.Theme
	}
	merged.Constraints = mergeLists(prior.Constraints, next.Constraints)
	merged.TargetMetrics = mergeLists(prior.TargetMetrics, next.TargetMetrics)
	merged.LowConfidence = next.LowConfidence && prior.Goal == ""
	return merged
}

func mergeLists(prior, next []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, v := range append(append([]string{}, prior...), next...) {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// #endregion merge

// #region store

// Store persists conversations and their turns, backed by sqlite.
type Store struct {
	db *sql.DB
}

// NewStore opens (creating if needed) the conversation store at path.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open conversation store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init conversation schema: %w", err)
	}
	return &Store{db: db}, nil
}

// NewStoreWithDB wraps an existing database handle. The schema is applied
// idempotently.
func NewStoreWithDB(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("init conversation schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Begin resolves a conversation for a request. An empty or unknown id starts
// a fresh conversation rather than failing, so clients may pass ids
// optimistically.
func (s *Store) Begin(ctx context.Context, id, userID string) (Conversation, error) {
	if id != "" {
		c, ok, err := s.Get(ctx, id)
		if err != nil {
			return Conversation{}, err
		}
		if ok {
			return c, nil
		}
	}
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()
	c := Conversation{ID: id, UserID: userID, Status: StatusNew, CreatedAt: now, UpdatedAt: now}
	intentJSON, err := json.Marshal(c.Intent)
	if err != nil {
		return Conversation{}, fmt.Errorf("encode intent: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, user_id, status, intent_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.Status, string(intentJSON),
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return Conversation{}, fmt.Errorf("begin conversation: %w", err)
	}
	return c, nil
}

// Get loads one conversation. The second return is false when unknown.
func (s *Store) Get(ctx context.Context, id string) (Conversation, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, status, intent_json, created_at, updated_at
		FROM conversations WHERE id = ?`, id)
	var c Conversation
	var intentJSON, createdAt, updatedAt string
	err := row.Scan(&c.ID, &c.UserID, &c.Status, &intentJSON, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, false, nil
	}
	if err != nil {
		return Conversation{}, false, fmt.Errorf("load conversation: %w", err)
	}
	if err := json.Unmarshal([]byte(intentJSON), &c.Intent); err != nil {
		return Conversation{}, false, fmt.Errorf("decode intent: %w", err)
	}
	if c.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return Conversation{}, false, fmt.Errorf("decode created_at: %w", err)
	}
	if c.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return Conversation{}, false, fmt.Errorf("decode updated_at: %w", err)
	}
	return c, true, nil
}

// UpdateIntent persists the merged intent and promotes the conversation to
// active.
func (s *Store) UpdateIntent(ctx context.Context, id string, in intent.Intent) error {
	intentJSON, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode intent: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET intent_json = ?, status = ?, updated_at = ?
		WHERE id = ?`,
		string(intentJSON), StatusActive, time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("update intent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update intent: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("update intent: conversation %q not found", id)
	}
	return nil
}

// AppendTurn records one exchange. Sequence numbers are assigned inside a
// transaction so concurrent appends never collide.
func (s *Store) AppendTurn(ctx context.Context, convID, role, content, interactionID string) (Turn, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Turn{}, fmt.Errorf("append turn: %w", err)
	}
	defer tx.Rollback()

	var seq int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM turns WHERE conversation_id = ?`,
		convID).Scan(&seq); err != nil {
		return Turn{}, fmt.Errorf("append turn: %w", err)
	}
	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO turns (conversation_id, seq, role, content, interaction_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		convID, seq, role, content, interactionID, now.Format(time.RFC3339Nano))
	if err != nil {
		return Turn{}, fmt.Errorf("append turn: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Turn{}, fmt.Errorf("append turn: %w", err)
	}
	return Turn{Seq: seq, Role: role, Content: content, InteractionID: interactionID, CreatedAt: now}, nil
}

// Turns returns a conversation's turns in sequence order.
func (s *Store) Turns(ctx context.Context, convID string) ([]Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, role, content, interaction_id, created_at
		FROM turns WHERE conversation_id = ? ORDER BY seq ASC`, convID)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()

	var out []Turn
	for rows.Next() {
		var t Turn
		var createdAt string
		if err := rows.Scan(&t.Seq, &t.Role, &t.Content, &t.InteractionID, &createdAt); err != nil {
			return nil, fmt.Errorf("list turns: %w", err)
		}
		if t.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("decode created_at: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// #endregion store
