package pushauth

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used in development and tests.
type MemoryStore struct {
	mu     sync.Mutex
	tokens map[string]Token
}

// NewMemoryStore returns an empty token store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tokens: make(map[string]Token)}
}

func (s *MemoryStore) Get(_ context.Context, userID string) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[userID]
	if !ok {
		return Token{}, ErrNotFound
	}
	return tok, nil
}

func (s *MemoryStore) Create(_ context.Context, userID, value string, now time.Time) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok, ok := s.tokens[userID]; ok {
		return tok, nil
	}
	tok := Token{UserID: userID, Value: value, IssuedAt: now.UTC()}
	s.tokens[userID] = tok
	return tok, nil
}

func (s *MemoryStore) Replace(_ context.Context, userID, value string, now time.Time) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[userID]
	if !ok {
		tok = Token{UserID: userID}
	}
	tok.Value = value
	tok.IssuedAt = now.UTC()
	s.tokens[userID] = tok
	return tok, nil
}

func (s *MemoryStore) MarkSent(_ context.Context, userID string, sentAt time.Time) error {
	return s.update(userID, func(t *Token) { t.SentAt = sentAt.UTC() })
}

func (s *MemoryStore) Ack(_ context.Context, userID, value string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[userID]
	if !ok || tok.Value != value {
		return false, nil
	}
	tok.Authenticated = true
	tok.AckedAt = now.UTC()
	s.tokens[userID] = tok
	return true, nil
}

func (s *MemoryStore) Sweep(_ context.Context, cutoff time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0)
	for id, tok := range s.tokens {
		if !tok.Authenticated || !tok.Sent() || tok.SentAt.After(cutoff) {
			continue
		}
		if !tok.AckedAt.IsZero() && !tok.AckedAt.Before(tok.SentAt) {
			continue
		}
		tok.Authenticated = false
		s.tokens[id] = tok
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) Deauthenticate(_ context.Context, userIDs []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, id := range userIDs {
		tok, ok := s.tokens[id]
		if !ok || !tok.Authenticated {
			continue
		}
		tok.Authenticated = false
		s.tokens[id] = tok
		n++
	}
	return n, nil
}

func (s *MemoryStore) ListUnauthenticated(_ context.Context, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := make([]Token, 0)
	for _, tok := range s.tokens {
		if !tok.Authenticated && tok.Sent() {
			list = append(list, tok)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].SentAt.After(list[j].SentAt) })
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	ids := make([]string, 0, len(list))
	for _, tok := range list {
		ids = append(ids, tok.UserID)
	}
	return ids, nil
}

func (s *MemoryStore) update(userID string, fn func(*Token)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[userID]
	if !ok {
		return ErrNotFound
	}
	fn(&tok)
	s.tokens[userID] = tok
	return nil
}
