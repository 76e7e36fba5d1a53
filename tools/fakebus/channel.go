package main

import (
	"regexp"
	"strings"
	"sync"
)

// ---------------------------------------------------------------------------
// Channel patterns used by -deny:
//   - Exact: "orders" matches only "orders"
//   - ">" matches everything
//   - Dot-hierarchy suffix: "orders.>" matches "orders.us" and "orders.eu.west"
//   - Single segment: "orders.*.fills" matches "orders.us.fills"
//   - Regex: patterns starting with ^
// ---------------------------------------------------------------------------

var (
	patternCacheLock sync.RWMutex
	patternCache     = make(map[string]*regexp.Regexp)
)

func compiledPattern(pattern string) (*regexp.Regexp, bool) {
	patternCacheLock.RLock()
	re, ok := patternCache[pattern]
	patternCacheLock.RUnlock()
	if ok {
		return re, true
	}

	compiled, err := regexp.Compile(pattern)
	if err != nil {
		return nil, false
	}

	patternCacheLock.Lock()
	patternCache[pattern] = compiled
	patternCacheLock.Unlock()
	return compiled, true
}

// channelMatches reports whether channel matches pattern.
func channelMatches(channel, pattern string) bool {
	if channel == pattern || pattern == ">" {
		return true
	}
	if pattern == "" {
		return false
	}

	if pattern[0] == '^' {
		re, ok := compiledPattern(pattern)
		if !ok {
			return false
		}
		return re.MatchString(channel)
	}

	// "orders.>" matches "orders.us" but not "orders".
	if strings.HasSuffix(pattern, ".>") {
		return strings.HasPrefix(channel, pattern[:len(pattern)-1])
	}

	if strings.Contains(pattern, "*") {
		channelParts := strings.Split(channel, ".")
		patternParts := strings.Split(pattern, ".")
		if len(channelParts) != len(patternParts) {
			return false
		}
		for index := range patternParts {
			if patternParts[index] != "*" && patternParts[index] != channelParts[index] {
				return false
			}
		}
		return true
	}

	return false
}
