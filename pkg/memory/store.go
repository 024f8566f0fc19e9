// Package memory is the long-term notes store behind the memory_search
// and memory_store tools: markdown files are the source of truth, and a
// SQLite database with an FTS5 shadow table is the search index over
// them. This is deliberately not conversation persistence — the message
// log lives in pkg/session; what's stored here are distilled facts,
// preferences, and events that should outlive any one conversation.
package memory

import (
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Memory is one stored note.
type Memory struct {
	ID        int64
	Content   string
	Category  string
	Source    string
	Metadata  map[string]string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MemoryStore indexes the workspace's markdown memory files in SQLite.
type MemoryStore struct {
	db        *sql.DB
	workspace string
}

// NewMemoryStore opens or creates the index database at dbPath.
// workspace is the agent workspace root (parent of memory/).
func NewMemoryStore(dbPath string, workspace string) (*MemoryStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create memory directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open memory database: %w", err)
	}

	// WAL keeps concurrent reads cheap while a store is in flight.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &MemoryStore{db: db, workspace: workspace}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *MemoryStore) Close() error {
	return s.db.Close()
}

func (s *MemoryStore) ensureSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS memories (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			content TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT 'general',
			source TEXT NOT NULL DEFAULT 'manual',
			metadata TEXT,
			content_hash TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS idx_memories_category ON memories(category);
		CREATE INDEX IF NOT EXISTS idx_memories_content_hash ON memories(content_hash);
	`)
	if err != nil {
		return err
	}

	// FTS5 virtual tables don't support IF NOT EXISTS; probe first.
	var ftsExists int
	err = s.db.QueryRow(`
		SELECT COUNT(*) FROM sqlite_master
		WHERE type='table' AND name='memories_fts'
	`).Scan(&ftsExists)
	if err != nil {
		return err
	}
	if ftsExists > 0 {
		return nil
	}

	_, err = s.db.Exec(`
		CREATE VIRTUAL TABLE memories_fts USING fts5(
			content,
			category,
			content='memories',
			content_rowid='id'
		);

		-- Triggers keep the FTS shadow in sync with the base table.
		CREATE TRIGGER memories_ai AFTER INSERT ON memories BEGIN
			INSERT INTO memories_fts(rowid, content, category)
			VALUES (new.id, new.content, new.category);
		END;

		CREATE TRIGGER memories_ad AFTER DELETE ON memories BEGIN
			INSERT INTO memories_fts(memories_fts, rowid, content, category)
			VALUES ('delete', old.id, old.content, old.category);
		END;

		CREATE TRIGGER memories_au AFTER UPDATE ON memories BEGIN
			INSERT INTO memories_fts(memories_fts, rowid, content, category)
			VALUES ('delete', old.id, old.content, old.category);
			INSERT INTO memories_fts(rowid, content, category)
			VALUES (new.id, new.content, new.category);
		END;
	`)
	return err
}

// Store saves a new note to the index and writes through to markdown.
// Category decides the markdown destination: "preference" and "note" go
// to MEMORY.md, everything else to today's daily log.
func (s *MemoryStore) Store(content, category, source string, metadata map[string]string) (int64, error) {
	var metaJSON *string
	if metadata != nil {
		data, err := json.Marshal(metadata)
		if err != nil {
			return 0, fmt.Errorf("marshal metadata: %w", err)
		}
		str := string(data)
		metaJSON = &str
	}

	result, err := s.db.Exec(
		`INSERT INTO memories (content, category, source, metadata, content_hash)
		 VALUES (?, ?, ?, ?, ?)`,
		content, category, source, metaJSON, contentHash(content),
	)
	if err != nil {
		return 0, fmt.Errorf("insert memory: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}

	// Best-effort write-through: the DB is only the index, markdown is
	// the durable copy Reindex rebuilds from.
	s.writeToMarkdown(content, category)

	return id, nil
}

// Search runs an FTS5 full-text query ranked by BM25, optionally
// filtered to one category. An empty query returns nothing.
func (s *MemoryStore) Search(query string, limit int, category string) ([]Memory, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 5
	}

	q := `
		SELECT m.id, m.content, m.category, m.source, m.metadata, m.created_at, m.updated_at
		FROM memories_fts fts
		JOIN memories m ON m.id = fts.rowid
		WHERE memories_fts MATCH ?`
	args := []interface{}{buildFTSQuery(query)}
	if category != "" {
		q += ` AND m.category = ?`
		args = append(args, category)
	}
	q += ` ORDER BY bm25(memories_fts) LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("search query failed: %w", err)
	}
	defer rows.Close()

	return scanMemories(rows)
}

// Reindex rebuilds the index from the markdown files (MEMORY.md plus
// the YYYYMM daily-log directories). Entries already imported are
// skipped by content hash, so reindexing is idempotent.
func (s *MemoryStore) Reindex() error {
	memoryDir := filepath.Join(s.workspace, "memory")

	if data, err := os.ReadFile(filepath.Join(memoryDir, "MEMORY.md")); err == nil {
		for _, line := range extractMemoryLines(string(data)) {
			s.storeIfNew(line, "note", "import")
		}
	}

	entries, err := os.ReadDir(memoryDir)
	if err != nil {
		return nil
	}
	for _, entry := range entries {
		if !entry.IsDir() || len(entry.Name()) != 6 {
			continue
		}
		monthDir := filepath.Join(memoryDir, entry.Name())
		files, err := os.ReadDir(monthDir)
		if err != nil {
			continue
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".md") {
				continue
			}
			data, err := os.ReadFile(filepath.Join(monthDir, f.Name()))
			if err != nil {
				continue
			}
			for _, line := range extractMemoryLines(string(data)) {
				s.storeIfNew(line, "event", "import")
			}
		}
	}

	return nil
}

// storeIfNew inserts a note unless its content hash is already indexed.
func (s *MemoryStore) storeIfNew(content, category, source string) {
	hash := contentHash(content)
	var exists int
	err := s.db.QueryRow("SELECT COUNT(*) FROM memories WHERE content_hash = ?", hash).Scan(&exists)
	if err != nil || exists > 0 {
		return
	}

	s.db.Exec(
		`INSERT INTO memories (content, category, source, content_hash) VALUES (?, ?, ?, ?)`,
		content, category, source, hash,
	)
}

// writeToMarkdown appends a note to its markdown destination.
func (s *MemoryStore) writeToMarkdown(content, category string) {
	memoryDir := filepath.Join(s.workspace, "memory")
	entry := fmt.Sprintf("- %s\n", content)

	switch category {
	case "preference", "note":
		s.appendToFile(filepath.Join(memoryDir, "MEMORY.md"), entry)
	default:
		today := time.Now().Format("20060102")
		dailyDir := filepath.Join(memoryDir, today[:6])
		os.MkdirAll(dailyDir, 0755)

		dailyFile := filepath.Join(dailyDir, today+".md")
		if _, err := os.Stat(dailyFile); os.IsNotExist(err) {
			header := fmt.Sprintf("# %s\n\n", time.Now().Format("2006-01-02"))
			os.WriteFile(dailyFile, []byte(header+entry), 0644)
		} else {
			s.appendToFile(dailyFile, entry)
		}
	}
}

func (s *MemoryStore) appendToFile(path, content string) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	defer f.Close()
	f.WriteString(content)
}

// extractMemoryLines parses markdown into individual note entries:
// list items and plain non-header lines, with list bullets stripped.
func extractMemoryLines(content string) []string {
	var lines []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || line == "---" {
			continue
		}
		line = strings.TrimPrefix(line, "- ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// buildFTSQuery turns a natural-language query into an FTS5 expression:
// each word becomes a quoted prefix token, so partial words still match.
func buildFTSQuery(query string) string {
	words := strings.Fields(query)
	if len(words) == 0 {
		return query
	}
	parts := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.ReplaceAll(w, `"`, `""`)
		parts = append(parts, `"`+w+`"*`)
	}
	return strings.Join(parts, " ")
}

func contentHash(content string) string {
	h := sha256.Sum256([]byte(content))
	return fmt.Sprintf("%x", h[:16]) // 32-char hex, enough for dedup
}

var timeFormats = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05",
	time.RFC3339,
}

func parseTime(s string) time.Time {
	for _, layout := range timeFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func scanMemories(rows *sql.Rows) ([]Memory, error) {
	var memories []Memory
	for rows.Next() {
		var m Memory
		var metaJSON sql.NullString
		var createdAt, updatedAt string

		if err := rows.Scan(&m.ID, &m.Content, &m.Category, &m.Source, &metaJSON, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		if metaJSON.Valid && metaJSON.String != "" {
			m.Metadata = make(map[string]string)
			json.Unmarshal([]byte(metaJSON.String), &m.Metadata)
		}
		m.CreatedAt = parseTime(createdAt)
		m.UpdatedAt = parseTime(updatedAt)

		memories = append(memories, m)
	}
	return memories, nil
}
