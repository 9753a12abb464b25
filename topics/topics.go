// Package topics implements topic name and filter validation and the
// wildcard matching algorithm used to route inbound messages to
// subscriptions.
//
// A topic is an ordered sequence of non-empty segments separated by
// "/". Filters may additionally use "+" to match exactly one segment
// and "#" to match any number of trailing segments; "#" is only legal
// as the final segment.
package topics

import (
	"errors"
	"fmt"
	"strings"
)

const (
	separator      = "/"
	wildcardSingle = "+"
	wildcardMulti  = "#"
	reservedPrefix = "$"
)

var (
	// ErrEmptyTopic is returned for empty names and filters.
	ErrEmptyTopic = errors.New("topics: topic must not be empty")

	// ErrEmptySegment is returned when a name or filter contains an
	// empty segment ("a//b", "/a", "a/").
	ErrEmptySegment = errors.New("topics: topic segment must not be empty")

	// ErrWildcardInName is returned when a topic name contains a
	// wildcard token. Wildcards are legal in filters only.
	ErrWildcardInName = errors.New("topics: wildcard in topic name")

	// ErrBadWildcard is returned for misplaced wildcard tokens in a
	// filter ("a/#/b", "a+/b").
	ErrBadWildcard = errors.New("topics: malformed wildcard usage")
)

// Policy controls matching behavior that is configurable rather than
// structural.
type Policy struct {
	// MatchReserved allows filters starting with "+" or "#" to
	// match reserved topics (first segment beginning with "$").
	// Off by default, consistent with broker-internal topics being
	// opted into explicitly.
	MatchReserved bool
}

// DefaultPolicy is used by the package-level Match.
var DefaultPolicy = Policy{}

// Match reports whether the filter matches the topic name under the
// default policy. Both arguments are assumed validated; malformed
// filters are rejected at subscribe time, not here.
func Match(filter, name string) bool {
	return DefaultPolicy.Match(filter, name)
}

// Match reports whether the filter matches the topic name. The
// function is pure: no side effects, deterministic for all inputs.
func (p Policy) Match(filter, name string) bool {
	if !p.MatchReserved && strings.HasPrefix(name, reservedPrefix) {
		first, _, _ := strings.Cut(filter, separator)
		if first == wildcardSingle || first == wildcardMulti {
			return false
		}
	}

	fs := strings.Split(filter, separator)
	ts := strings.Split(name, separator)

	for i, seg := range fs {
		if seg == wildcardMulti {
			// "#" swallows the remainder, including the
			// empty remainder: "a/#" matches "a".
			return true
		}
		if i >= len(ts) {
			return false
		}
		if seg == wildcardSingle {
			continue
		}
		if seg != ts[i] {
			return false
		}
	}
	return len(fs) == len(ts)
}

// ValidateName checks a topic name for use in a publish: non-empty,
// no empty segments, no wildcard tokens.
func ValidateName(name string) error {
	if name == "" {
		return ErrEmptyTopic
	}
	for _, seg := range strings.Split(name, separator) {
		if seg == "" {
			return ErrEmptySegment
		}
		if strings.ContainsAny(seg, wildcardSingle+wildcardMulti) {
			return fmt.Errorf("%w: %q", ErrWildcardInName, name)
		}
	}
	return nil
}

// ValidateFilter checks a subscription filter: non-empty, no empty
// segments, "+" and "#" only as whole segments and "#" only at the
// end.
func ValidateFilter(filter string) error {
	if filter == "" {
		return ErrEmptyTopic
	}
	segs := strings.Split(filter, separator)
	for i, seg := range segs {
		switch {
		case seg == "":
			return ErrEmptySegment
		case seg == wildcardMulti:
			if i != len(segs)-1 {
				return fmt.Errorf("%w: %q must be the last segment", ErrBadWildcard, wildcardMulti)
			}
		case seg == wildcardSingle:
			// Single-segment wildcard is fine anywhere.
		case strings.ContainsAny(seg, wildcardSingle+wildcardMulti):
			return fmt.Errorf("%w: wildcard must span a whole segment in %q", ErrBadWildcard, filter)
		}
	}
	return nil
}
