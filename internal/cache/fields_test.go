package cache

import (
	"testing"

	jira "github.com/andygrunwald/go-jira"
	"github.com/stretchr/testify/assert"
)

func TestDiscoverStoryPointsExactName(t *testing.T) {
	fields := []jira.Field{
		{ID: "summary", Name: "Summary"},
		{ID: "customfield_10016", Name: "Story Points", Custom: true},
	}
	assert.Equal(t, "customfield_10016", DiscoverStoryPoints(fields))
}

func TestDiscoverStoryPointsSubstringFallback(t *testing.T) {
	fields := []jira.Field{
		{ID: "customfield_10020", Name: "Story Point Estimate", Custom: true},
	}
	assert.Equal(t, "customfield_10020", DiscoverStoryPoints(fields))
}

func TestDiscoverStoryPointsPrefersExactOverSubstring(t *testing.T) {
	fields := []jira.Field{
		{ID: "customfield_1", Name: "Story Point Estimate", Custom: true},
		{ID: "customfield_2", Name: "Story Points", Custom: true},
	}
	assert.Equal(t, "customfield_2", DiscoverStoryPoints(fields))
}

func TestDiscoverStoryPointsAbsent(t *testing.T) {
	fields := []jira.Field{
		{ID: "summary", Name: "Summary"},
		{ID: "customfield_9", Name: "Epic Link", Custom: true},
	}
	assert.Equal(t, "", DiscoverStoryPoints(fields))
}

func TestDiscoverStoryPointsIgnoresBuiltinFields(t *testing.T) {
	fields := []jira.Field{
		{ID: "storypoints", Name: "Story Points", Custom: false},
	}
	assert.Equal(t, "", DiscoverStoryPoints(fields))
}
