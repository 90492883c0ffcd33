package server

import (
	"sync"
	"time"

	"github.com/pardot/oidcop/session"
)

// grant is an issued authorization code, waiting to be redeemed.
type grant struct {
	ClientID    string
	RedirectURI string
	Session     *session.Session
	Expiry      time.Time
}

// grantStore holds outstanding authorization codes. Codes are single use.
type grantStore struct {
	mu     sync.Mutex
	grants map[string]*grant
}

func newGrantStore() *grantStore {
	return &grantStore{grants: map[string]*grant{}}
}

func (g *grantStore) put(code string, gr *grant) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.grants[code] = gr
}

// redeem removes and returns the grant for code, if it exists and has not
// expired. Expired grants found along the way are dropped.
func (g *grantStore) redeem(code string, now time.Time) (*grant, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for c, gr := range g.grants {
		if now.After(gr.Expiry) {
			delete(g.grants, c)
		}
	}

	gr, ok := g.grants[code]
	if !ok {
		return nil, false
	}
	delete(g.grants, code)
	return gr, true
}
