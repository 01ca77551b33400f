package models

import (
	"sort"
	"time"
)

// Directive is the broadcast instruction telling downstream components which
// mode is in effect. It is immutable once published.
type Directive struct {
	ID          string    `json:"id"`
	Mode        ModeLevel `json:"mode"`
	Label       string    `json:"label"`
	ExpiresAt   time.Time `json:"expires_at"`
	ReasonCodes []string  `json:"reason_codes"`
	EmittedAt   time.Time `json:"timestamp"`
	Source      string    `json:"source"`
	Forced      bool      `json:"forced,omitempty"`
}

// Expired reports whether the directive no longer holds at now.
func (d *Directive) Expired(now time.Time) bool {
	return d == nil || !now.Before(d.ExpiresAt)
}

// EffectiveMode is what a consumer should assume at now: an expired
// directive reverts to Normal.
func (d *Directive) EffectiveMode(now time.Time) ModeLevel {
	if d.Expired(now) {
		return ModeNormal
	}
	return d.Mode
}

// SameReasons compares two reason-code sets ignoring order and duplicates.
func SameReasons(a, b []string) bool {
	as, bs := reasonSet(a), reasonSet(b)
	if len(as) != len(bs) {
		return false
	}
	for k := range as {
		if _, ok := bs[k]; !ok {
			return false
		}
	}
	return true
}

func reasonSet(codes []string) map[string]struct{} {
	m := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		m[c] = struct{}{}
	}
	return m
}

// SortedReasons returns a deduplicated, sorted copy of codes.
func SortedReasons(codes []string) []string {
	set := reasonSet(codes)
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// UniqueReasons drops empty and repeated codes, keeping first occurrence order.
func UniqueReasons(codes []string) []string {
	seen := make(map[string]struct{}, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// OverrideSignal is a coordinating instruction from a peer guard (or an
// external controller) that pins another guard's mode until it expires.
type OverrideSignal struct {
	Mode      ModeLevel `json:"mode"`
	Source    string    `json:"source"`
	Reason    string    `json:"reason,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Active reports whether the signal is still asserted at now.
func (o *OverrideSignal) Active(now time.Time) bool {
	return o != nil && now.Before(o.ExpiresAt)
}
