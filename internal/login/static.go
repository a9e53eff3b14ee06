package login

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/JakeFAU/statute-crawler/internal/statute"
)

// Static yields pre-issued tokens, one per Login call.
type Static struct {
	mu     sync.Mutex
	tokens []string
	next   int
}

// NewStatic creates a provider over tokens. Blank entries are dropped.
func NewStatic(tokens []string) *Static {
	kept := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t = strings.TrimSpace(t); t != "" {
			kept = append(kept, t)
		}
	}
	return &Static{tokens: kept}
}

// Login returns the next configured token.
func (s *Static) Login(ctx context.Context) (statute.Credential, error) {
	if err := ctx.Err(); err != nil {
		return statute.Credential{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.tokens) {
		return statute.Credential{}, fmt.Errorf("static provider exhausted: %w", statute.ErrLoginFailed)
	}
	token := s.tokens[s.next]
	s.next++
	return statute.Credential{Token: token, UserLabel: "static"}, nil
}

// Remaining reports how many tokens are left.
func (s *Static) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens) - s.next
}
