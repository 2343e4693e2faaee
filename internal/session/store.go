package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// VaultWriter interface for writing sessions to Obsidian vault
type VaultWriter interface {
	Write(sess *Session) error
}

// Store handles session persistence
type Store struct {
	stateDir    string
	vaultWriter VaultWriter
	log         *zap.SugaredLogger
}

// NewStore creates a new session store
func NewStore(stateDir string) (*Store, error) {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &Store{stateDir: stateDir, log: zap.NewNop().Sugar()}, nil
}

// SetVaultWriter sets the Obsidian vault writer for dual persistence
func (s *Store) SetVaultWriter(w VaultWriter) {
	s.vaultWriter = w
}

// WithLogger attaches a logger used to report non-fatal persistence
// problems, such as a failing vault write, instead of writing to stderr.
func (s *Store) WithLogger(log *zap.SugaredLogger) *Store {
	if log != nil {
		s.log = log
	}
	return s
}

// Save persists a session to disk (JSON) and optionally to Obsidian vault.
// A failed vault write is logged and swallowed since the vault is secondary
// storage: losing the Obsidian note must never cost the caller their
// canonical on-disk record of the research run.
func (s *Store) Save(sess *Session) error {
	sess.UpdatedAt = time.Now()

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	filename := filepath.Join(s.stateDir, sess.ID+".json")
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("write session: %w", err)
	}

	// Update last session pointer
	lastFile := filepath.Join(s.stateDir, ".last")
	if err := os.WriteFile(lastFile, []byte(sess.ID), 0644); err != nil {
		s.log.Warnw("failed to update last-session pointer", "session_id", sess.ID, "error", err)
		return nil
	}

	if s.vaultWriter != nil {
		if err := s.vaultWriter.Write(sess); err != nil {
			s.log.Warnw("failed to write session to vault", "session_id", sess.ID, "error", err)
		}
	}

	return nil
}

// Load retrieves a session by ID
func (s *Store) Load(id string) (*Session, error) {
	filename := filepath.Join(s.stateDir, id+".json")
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}

	return &sess, nil
}

// LoadLast returns the most recent session
func (s *Store) LoadLast() (*Session, error) {
	lastFile := filepath.Join(s.stateDir, ".last")
	data, err := os.ReadFile(lastFile)
	if err != nil {
		return nil, nil // No last session
	}

	return s.Load(strings.TrimSpace(string(data)))
}

// List returns all session summaries, sorted by date descending.
func (s *Store) List() ([]SessionSummary, error) {
	return s.ListByStatus("")
}

// ListByStatus returns session summaries filtered to a single status, or all
// sessions when status is empty. A corrupt or unreadable session file is
// logged and skipped rather than failing the whole listing — one bad JSON
// blob shouldn't hide every other session from `research list`.
func (s *Store) ListByStatus(status SessionStatus) ([]SessionSummary, error) {
	files, err := os.ReadDir(s.stateDir)
	if err != nil {
		return nil, fmt.Errorf("read state dir: %w", err)
	}

	var summaries []SessionSummary
	for _, f := range files {
		if !strings.HasSuffix(f.Name(), ".json") {
			continue
		}

		sess, err := s.Load(strings.TrimSuffix(f.Name(), ".json"))
		if err != nil {
			s.log.Warnw("skipping unreadable session file", "file", f.Name(), "error", err)
			continue
		}

		if status != "" && sess.Status != status {
			continue
		}

		summaries = append(summaries, SessionSummary{
			ID:        sess.ID,
			Query:     sess.Query,
			Status:    sess.Status,
			CreatedAt: sess.CreatedAt,
			Cost:      sess.Cost.TotalCost,
		})
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
	})

	return summaries, nil
}

// Delete removes a session by ID, along with the last-session pointer if it
// referenced the deleted session.
func (s *Store) Delete(id string) error {
	filename := filepath.Join(s.stateDir, id+".json")
	if err := os.Remove(filename); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}

	lastFile := filepath.Join(s.stateDir, ".last")
	if data, err := os.ReadFile(lastFile); err == nil && strings.TrimSpace(string(data)) == id {
		_ = os.Remove(lastFile)
	}

	return nil
}

// SessionSummary is a lightweight session representation
type SessionSummary struct {
	ID        string
	Query     string
	Status    SessionStatus
	CreatedAt time.Time
	Cost      float64
}
