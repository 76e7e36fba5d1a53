package main

import (
	"crypto/subtle"
	"sync"
)

// ---------------------------------------------------------------------------
// Authentication and entitlements.
//
// The bus authenticates the upgrade request with the "token" query parameter
// when -token is set, and rejects subscriptions to channels matching any
// -deny pattern. Default: accept everything.
// ---------------------------------------------------------------------------

type entitlements struct {
	lock  sync.RWMutex
	token string
	deny  []string
}

func newEntitlements(token string, deny []string) *entitlements {
	return &entitlements{token: token, deny: append([]string(nil), deny...)}
}

// authenticate checks the connection token.
func (auth *entitlements) authenticate(token string) bool {
	auth.lock.RLock()
	defer auth.lock.RUnlock()
	if auth.token == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(auth.token)) == 1
}

// canSubscribe checks channel against the deny list.
func (auth *entitlements) canSubscribe(channel string) bool {
	auth.lock.RLock()
	defer auth.lock.RUnlock()
	for _, pattern := range auth.deny {
		if channelMatches(channel, pattern) {
			return false
		}
	}
	return true
}

func (auth *entitlements) denyChannel(pattern string) {
	auth.lock.Lock()
	auth.deny = append(auth.deny, pattern)
	auth.lock.Unlock()
}
