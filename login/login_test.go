package login

import (
	"sync"
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	token, _ := signToken("user@anubis.chat", time.Hour, false)
	email, ok := GetEmailFromToken(token)
	if !ok || email != "user@anubis.chat" {
		t.Fatalf("token did not round-trip: ok=%v email=%q", ok, email)
	}
}

func TestRevokedTokenRejected(t *testing.T) {
	token, exp := signToken("user@anubis.chat", time.Hour, false)
	revokeToken(token, exp)
	if _, ok := GetEmailFromToken(token); ok {
		t.Fatalf("revoked token still accepted")
	}
}

// Logout and authenticated requests race on the blacklist from separate
// goroutines; run them together so -race covers the shared map.
func TestBlacklistConcurrentAccess(t *testing.T) {
	tokens := make([]string, 50)
	exps := make([]int64, 50)
	for i := range tokens {
		tokens[i], exps[i] = signToken("user@anubis.chat", time.Hour, false)
	}

	var wg sync.WaitGroup
	for i := range tokens {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			revokeToken(tokens[i], exps[i])
		}(i)
		go func(i int) {
			defer wg.Done()
			parseToken(tokens[i])
		}(i)
	}
	wg.Wait()

	for _, token := range tokens {
		if _, ok := parseToken(token); ok {
			t.Fatalf("token survived revocation")
		}
	}
}
