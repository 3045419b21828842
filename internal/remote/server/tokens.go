package server

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sentinelops/fleetsync/internal/models"
)

// FileTokenStore is a JSON-file-based token store. Only token hashes are
// persisted.
type FileTokenStore struct {
	path   string
	mu     sync.RWMutex
	tokens map[string]*TokenInfo // keyed by token_hash
	logger *slog.Logger
}

// NewFileTokenStore returns an empty store backed by path. Call Load to read
// existing tokens.
func NewFileTokenStore(path string, logger *slog.Logger) *FileTokenStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileTokenStore{
		path:   path,
		tokens: make(map[string]*TokenInfo),
		logger: logger,
	}
}

// Load replaces the in-memory tokens with the file's contents.
func (s *FileTokenStore) Load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}

	var tokens []*TokenInfo
	if err := json.Unmarshal(data, &tokens); err != nil {
		return fmt.Errorf("parse token store: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens = make(map[string]*TokenInfo)
	for _, t := range tokens {
		s.tokens[t.TokenHash] = t
	}

	s.logger.Info("loaded tokens", "count", len(tokens))
	return nil
}

func (s *FileTokenStore) GetByHash(hash string) (*TokenInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, ok := s.tokens[hash]
	if !ok {
		return nil, nil
	}
	c := *info
	return &c, nil
}

// UpdateLastUsed records the time in memory. It is written to disk with the
// next token change.
func (s *FileTokenStore) UpdateLastUsed(id string) error {
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tokens {
		if t.ID == id {
			t.LastUsedAt = &now
			return nil
		}
	}
	return fmt.Errorf("token '%s' not found", id)
}

func (s *FileTokenStore) save() error {
	s.mu.RLock()
	tokens := make([]*TokenInfo, 0, len(s.tokens))
	for _, t := range s.tokens {
		tokens = append(tokens, t)
	}
	data, err := json.MarshalIndent(tokens, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal tokens: %w", err)
	}
	return os.WriteFile(s.path, data, 0600)
}

// CreateToken issues a new token for operator. An operator without an ID
// gets a fresh UUID.
func (s *FileTokenStore) CreateToken(desc string, operator models.Operator) (string, *TokenInfo, error) {
	if operator.ID == "" {
		operator.ID = uuid.NewString()
	}
	rawToken := fmt.Sprintf("fst_%s", generateID())

	info := TokenInfo{
		ID:        generateID(),
		TokenHash: HashToken(rawToken),
		Desc:      desc,
		Operator:  operator,
	}

	s.mu.Lock()
	stored := info
	s.tokens[info.TokenHash] = &stored
	s.mu.Unlock()

	if err := s.save(); err != nil {
		return "", nil, fmt.Errorf("persist token: %w", err)
	}

	return rawToken, &info, nil
}

func (s *FileTokenStore) ListTokens() ([]*TokenInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tokens := make([]*TokenInfo, 0, len(s.tokens))
	for _, t := range s.tokens {
		c := *t
		tokens = append(tokens, &c)
	}
	return tokens, nil
}

func (s *FileTokenStore) DeleteToken(id string) error {
	s.mu.Lock()
	found := false
	for hash, t := range s.tokens {
		if t.ID == id {
			delete(s.tokens, hash)
			found = true
			break
		}
	}
	s.mu.Unlock()

	if !found {
		return fmt.Errorf("token '%s' not found", id)
	}

	return s.save()
}

func generateID() string {
	b := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}
