package cache

import (
	"regexp"
	"strings"

	jira "github.com/andygrunwald/go-jira"
)

// Ordered patterns tried against custom field names before falling back to a
// case-insensitive substring match.
var storyPointsPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^story\s*points$`),
	regexp.MustCompile(`(?i)^points$`),
}

const storyPointsSubstring = "story point"

// DiscoverStoryPoints finds the custom field id carrying story points.
// Returns "" when no field matches; callers treat that as the feature being
// unavailable, not as an error.
func DiscoverStoryPoints(fields []jira.Field) string {
	for _, pattern := range storyPointsPatterns {
		for _, f := range fields {
			if f.Custom && pattern.MatchString(f.Name) {
				return f.ID
			}
		}
	}

	for _, f := range fields {
		if f.Custom && strings.Contains(strings.ToLower(f.Name), storyPointsSubstring) {
			return f.ID
		}
	}
	return ""
}
