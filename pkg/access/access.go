// Copyright 2024-2026 Aiku AI

// Package access decides whether a remote JID may talk to the bridge.
// The allow-list is built once at startup from configuration and is
// read-only afterwards, so lookups are safe for concurrent use.
package access

import (
	"fmt"
	"strings"
)

// Rule is a single allow-list entry: either an exact bare JID or a
// wildcard covering every user of one domain ("*@example.org").
type Rule struct {
	exact  string // full bare JID, empty for wildcard rules
	domain string // wildcard domain, empty for exact rules
}

// ParseRule parses a configuration pattern into a Rule.
// Accepted forms: "user@domain" (exact) and "*@domain" (wildcard).
func ParseRule(pattern string) (Rule, error) {
	pattern = strings.TrimSpace(pattern)
	if after, ok := strings.CutPrefix(pattern, "*@"); ok {
		if after == "" || strings.ContainsAny(after, "@*/ ") {
			return Rule{}, fmt.Errorf("invalid wildcard rule %q", pattern)
		}
		return Rule{domain: strings.ToLower(after)}, nil
	}
	local, domain, err := splitJID(pattern)
	if err != nil {
		return Rule{}, fmt.Errorf("invalid rule %q: %w", pattern, err)
	}
	return Rule{exact: local + "@" + domain}, nil
}

// List is an immutable set of allow rules. A match on any rule
// suffices; there are no deny rules.
type List struct {
	rules []Rule
}

// NewList parses all patterns into a List. Any malformed pattern is a
// startup-time configuration error.
func NewList(patterns []string) (*List, error) {
	rules := make([]Rule, 0, len(patterns))
	for _, pattern := range patterns {
		rule, err := ParseRule(pattern)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return &List{rules: rules}, nil
}

// Allowed reports whether the given JID matches any rule. Malformed
// JIDs are never allowed; they do not produce an error because the
// caller drops denied peers silently either way.
func (l *List) Allowed(jid string) bool {
	local, domain, err := splitJID(jid)
	if err != nil {
		return false
	}
	bare := local + "@" + domain
	for _, rule := range l.rules {
		if rule.exact != "" && rule.exact == bare {
			return true
		}
		if rule.domain != "" && rule.domain == domain {
			return true
		}
	}
	return false
}

// Len returns the number of rules in the list.
func (l *List) Len() int {
	return len(l.rules)
}

// splitJID splits a JID into normalized local and domain parts,
// discarding any resource. JIDs are case-insensitive per RFC 7622, so
// both parts are lowercased for comparison.
func splitJID(jid string) (local, domain string, err error) {
	if slash := strings.IndexByte(jid, '/'); slash >= 0 {
		jid = jid[:slash]
	}
	at := strings.IndexByte(jid, '@')
	if at <= 0 || at == len(jid)-1 {
		return "", "", fmt.Errorf("not a user@domain JID")
	}
	local = strings.ToLower(jid[:at])
	domain = strings.ToLower(jid[at+1:])
	if strings.ContainsAny(local, "@* ") || strings.ContainsAny(domain, "@* ") {
		return "", "", fmt.Errorf("forbidden characters in JID")
	}
	return local, domain, nil
}
