package transfer

import (
	"sync"
	"time"

	"github.com/Far-Beyond-Dev/horizon-mesh/internal/player"
	"github.com/Far-Beyond-Dev/horizon-mesh/internal/server"
)

type tokenEntry struct {
	token    TransferToken
	redeemed bool
}

// TokenStore issues and redeems transfer tokens. Redemption is a single
// check-and-invalidate under the store lock, so two concurrent redemption
// attempts for the same token id can never both succeed.
type TokenStore struct {
	mu     sync.Mutex
	tokens map[string]*tokenEntry
}

func NewTokenStore() *TokenStore {
	return &TokenStore{tokens: make(map[string]*tokenEntry)}
}

// Issue mints and tracks a token for playerID bound to target.
func (s *TokenStore) Issue(playerID player.PlayerID, target server.ServerID, ttl time.Duration) TransferToken {
	t := NewTransferToken(playerID, target, ttl)
	s.mu.Lock()
	s.tokens[t.TokenID] = &tokenEntry{token: t}
	s.mu.Unlock()
	return t
}

// Redeem validates and consumes the token in one atomic step. Only the
// named destination server may redeem, exactly once, before expiry. A
// wrong-server attempt does not consume the token: the real destination
// can still redeem it.
func (s *TokenStore) Redeem(tokenID string, by server.ServerID) (TransferToken, error) {
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.tokens[tokenID]
	if !ok {
		return TransferToken{}, ErrTokenNotFound
	}
	if entry.redeemed {
		return TransferToken{}, ErrTokenAlreadyUsed
	}
	if entry.token.Expired(now) {
		delete(s.tokens, tokenID)
		return TransferToken{}, ErrTokenExpired
	}
	if entry.token.TargetServer != by {
		return TransferToken{}, ErrWrongServer
	}
	entry.redeemed = true
	return entry.token, nil
}

// Cancel invalidates a pending token. Redeemed tokens cannot be cancelled;
// the transfer already happened.
func (s *TokenStore) Cancel(tokenID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.tokens[tokenID]
	if !ok || entry.redeemed {
		return false
	}
	delete(s.tokens, tokenID)
	return true
}

// Prune drops entries past expiry and returns how many were removed.
// Redeemed entries are kept until they expire so a retried redemption
// still gets the already-used error instead of not-found. Expiry stays
// enforced in Redeem regardless of prune cadence.
func (s *TokenStore) Prune() int {
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, entry := range s.tokens {
		if entry.token.Expired(now) {
			delete(s.tokens, id)
			removed++
		}
	}
	return removed
}

// Pending counts tracked, unredeemed tokens (including not-yet-pruned
// expired ones).
func (s *TokenStore) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, entry := range s.tokens {
		if !entry.redeemed {
			n++
		}
	}
	return n
}
