package retrieval

import (
	"math/rand"
	"strings"
	"sync"
)

const (
	tokenLength   = 8
	tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// TokenSource generates the one-time scan tokens. They gate physical
// presence, not cryptographic secrecy: an 8-char uppercase alphanumeric
// value rendered only on the locker's own terminal.
type TokenSource struct {
	mu sync.Mutex
	r  *rand.Rand
}

func NewTokenSource(seed int64) *TokenSource {
	return &TokenSource{r: rand.New(rand.NewSource(seed))}
}

func (ts *TokenSource) NewToken() string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	var b strings.Builder
	b.Grow(tokenLength)
	for i := 0; i < tokenLength; i++ {
		b.WriteByte(tokenAlphabet[ts.r.Intn(len(tokenAlphabet))])
	}
	return b.String()
}
