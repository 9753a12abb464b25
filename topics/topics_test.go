package topics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatch(t *testing.T) {
	testCases := []struct {
		Name string

		filter string
		topic  string
		match  bool
	}{
		{Name: "Exact match", filter: "a/b", topic: "a/b", match: true},
		{Name: "Exact mismatch", filter: "a/b", topic: "a/c", match: false},
		{Name: "Multi-level trailing", filter: "a/#", topic: "a/b/c", match: true},
		{Name: "Multi-level parent", filter: "a/#", topic: "a", match: true},
		{Name: "Multi-level root", filter: "#", topic: "a/b/c", match: true},
		{Name: "Single-level", filter: "a/+/c", topic: "a/b/c", match: true},
		{Name: "Single-level mismatch", filter: "a/+/c", topic: "a/b/d", match: false},
		{Name: "Single-level too short", filter: "a/+/c", topic: "a/b", match: false},
		{Name: "Single-level only", filter: "+", topic: "a", match: true},
		{Name: "Single-level not multi", filter: "+", topic: "a/b", match: false},
		{Name: "Filter longer than topic", filter: "a/b/c", topic: "a/b", match: false},
		{Name: "Topic longer than filter", filter: "a/b", topic: "a/b/c", match: false},
		{Name: "Plus then hash", filter: "+/#", topic: "a/b/c", match: true},
	}
	for _, testCase := range testCases {
		t.Run(testCase.Name, func(t *testing.T) {
			assert.Equal(t, testCase.match,
				Match(testCase.filter, testCase.topic),
				"Match(%q, %q)", testCase.filter, testCase.topic)
		})
	}
}

func TestMatchReservedTopics(t *testing.T) {
	// Reserved topics are hidden from leading wildcards by default.
	assert.False(t, Match("#", "$SYS/stats"))
	assert.False(t, Match("+/stats", "$SYS/stats"))
	assert.True(t, Match("$SYS/#", "$SYS/stats"))
	assert.True(t, Match("$SYS/stats", "$SYS/stats"))

	permissive := Policy{MatchReserved: true}
	assert.True(t, permissive.Match("#", "$SYS/stats"))
	assert.True(t, permissive.Match("+/stats", "$SYS/stats"))
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, ValidateName("a/b/c"))
	assert.NoError(t, ValidateName("a"))
	assert.ErrorIs(t, ValidateName(""), ErrEmptyTopic)
	assert.ErrorIs(t, ValidateName("a//b"), ErrEmptySegment)
	assert.ErrorIs(t, ValidateName("/a"), ErrEmptySegment)
	assert.ErrorIs(t, ValidateName("a/+/c"), ErrWildcardInName)
	assert.ErrorIs(t, ValidateName("a/#"), ErrWildcardInName)
}

func TestValidateFilter(t *testing.T) {
	assert.NoError(t, ValidateFilter("a/b/c"))
	assert.NoError(t, ValidateFilter("a/+/c"))
	assert.NoError(t, ValidateFilter("a/#"))
	assert.NoError(t, ValidateFilter("#"))
	assert.NoError(t, ValidateFilter("+/+"))
	assert.ErrorIs(t, ValidateFilter(""), ErrEmptyTopic)
	assert.ErrorIs(t, ValidateFilter("a//b"), ErrEmptySegment)
	assert.ErrorIs(t, ValidateFilter("a/#/b"), ErrBadWildcard)
	assert.ErrorIs(t, ValidateFilter("a+/b"), ErrBadWildcard)
	assert.ErrorIs(t, ValidateFilter("a/b#"), ErrBadWildcard)
}
