package catalog

// #region imports
import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	_ "modernc.org/sqlite"
)

// #endregion imports

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS modules (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	theme         TEXT NOT NULL,
	description   TEXT NOT NULL,
	category      TEXT NOT NULL DEFAULT '',
	tags          TEXT NOT NULL DEFAULT '[]',
	personas      TEXT NOT NULL DEFAULT '[]',
	goals         TEXT NOT NULL DEFAULT '[]',
	scales        TEXT NOT NULL DEFAULT '[]',
	license       TEXT NOT NULL DEFAULT 'standard',
	dependencies  TEXT NOT NULL DEFAULT '[]',
	conflicts     TEXT NOT NULL DEFAULT '[]',
	embedding     BLOB
);
CREATE INDEX IF NOT EXISTS idx_modules_theme ON modules(theme);
`

// #endregion schema

// #region store-struct

// Store manages the module catalog in SQLite.
type Store struct {
	db *sql.DB
}

// #endregion store-struct

// #region constructor

// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// NewStoreWithDB wraps an already-open database, running migrations.
// Used when several stores share one SQLite file.
func NewStoreWithDB(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// #endregion constructor

// #region close

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for stores sharing the same file.
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion close

// #region upsert

// Upsert inserts or replaces a module by id.
func (s *Store) Upsert(ctx context.Context, m Module) error {
	if m.ID == "" {
		return fmt.Errorf("upsert module: empty id")
	}
	tags, _ := json.Marshal(orEmpty(m.Tags))
	personas, _ := json.Marshal(orEmpty(m.Personas))
	goals, _ := json.Marshal(orEmpty(m.Goals))
	scales, _ := json.Marshal(orEmpty(m.Scales))
	deps, _ := json.Marshal(orEmpty(m.Dependencies))
	conflicts, _ := json.Marshal(orEmpty(m.Conflicts))

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO modules
		(id, name, theme, description, category, tags, personas, goals, scales, license, dependencies, conflicts, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			theme = excluded.theme,
			description = excluded.description,
			category = excluded.category,
			tags = excluded.tags,
			personas = excluded.personas,
			goals = excluded.goals,
			scales = excluded.scales,
			license = excluded.license,
			dependencies = excluded.dependencies,
			conflicts = excluded.conflicts,
			embedding = excluded.embedding`,
		m.ID, m.Name, m.Theme, m.Description, m.Category,
		string(tags), string(personas), string(goals), string(scales),
		m.License, string(deps), string(conflicts), encodeVector(m.Embedding),
	)
	if err != nil {
		return fmt.Errorf("upsert module %s: %w", m.ID, err)
	}
	return nil
}

// #endregion upsert

// #region get

// Get retrieves a module by id. Returns (zero, false, nil) when absent.
func (s *Store) Get(ctx context.Context, id string) (Module, bool, error) {
	row := s.db.QueryRowContext(ctx, selectCols+` FROM modules WHERE id = ?`, id)
	m, err := scanModule(row)
	if err == sql.ErrNoRows {
		return Module{}, false, nil
	}
	if err != nil {
		return Module{}, false, fmt.Errorf("get module %s: %w", id, err)
	}
	return m, true, nil
}

// #endregion get

// #region list

// List returns all modules ordered by id. theme filters when non-empty.
func (s *Store) List(ctx context.Context, theme string) ([]Module, error) {
	query := selectCols + ` FROM modules ORDER BY id`
	args := []any{}
	if theme != "" {
		query = selectCols + ` FROM modules WHERE theme = ? ORDER BY id`
		args = append(args, theme)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list modules: %w", err)
	}
	defer rows.Close()

	var modules []Module
	for rows.Next() {
		m, err := scanModule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan module: %w", err)
		}
		modules = append(modules, m)
	}
	return modules, rows.Err()
}

// #endregion list

// #region delete

// Delete removes a module by id. Missing ids are not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM modules WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete module %s: %w", id, err)
	}
	return nil
}

// #endregion delete

// #region graph

// Graph builds the current dependency/conflict graph over the whole catalog.
func (s *Store) Graph(ctx context.Context) (Graph, error) {
	modules, err := s.List(ctx, "")
	if err != nil {
		return Graph{}, fmt.Errorf("build graph: %w", err)
	}
	g := Graph{Modules: make(map[string]Module, len(modules))}
	for _, m := range modules {
		g.Modules[m.ID] = m
	}
	return g, nil
}

// #endregion graph

// #region scan

const selectCols = `SELECT id, name, theme, description, category, tags, personas, goals, scales, license, dependencies, conflicts, embedding`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanModule(row rowScanner) (Module, error) {
	var m Module
	var tags, personas, goals, scales, deps, conflicts string
	var emb []byte
	err := row.Scan(&m.ID, &m.Name, &m.Theme, &m.Description, &m.Category,
		&tags, &personas, &goals, &scales, &m.License, &deps, &conflicts, &emb)
	if err != nil {
		return Module{}, err
	}
	json.Unmarshal([]byte(tags), &m.Tags)
	json.Unmarshal([]byte(personas), &m.Personas)
	json.Unmarshal([]byte(goals), &m.Goals)
	json.Unmarshal([]byte(scales), &m.Scales)
	json.Unmarshal([]byte(deps), &m.Dependencies)
	json.Unmarshal([]byte(conflicts), &m.Conflicts)
	m.Embedding = decodeVector(emb)
	return m, nil
}

// #endregion scan

// #region vector-codec

// encodeVector serializes a float32 slice as little-endian bytes.
func encodeVector(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// decodeVector deserializes little-endian bytes back to a float32 slice.
func decodeVector(buf []byte) []float32 {
	if len(buf) == 0 || len(buf)%4 != 0 {
		return nil
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}

// #endregion vector-codec

// #region helpers

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// #endregion helpers
