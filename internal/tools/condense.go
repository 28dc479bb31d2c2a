package tools

import (
	"fmt"
	"sort"
	"strings"

	"github.com/clintrovert/excelsior/pkg/types"
)

// condenseThreshold is the list size above which results are replaced by
// aggregates instead of being enumerated into the model's context.
const condenseThreshold = 10

const topicLimit = 5

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "from": true,
	"this": true, "that": true, "into": true, "when": true, "add": true,
	"fix": true, "update": true, "support": true, "new": true,
}

// Condense renders an issue list for the model's working context. Small
// lists are enumerated; larger ones are replaced by aggregate statistics and
// an instruction not to re-enumerate, which bounds prompt growth no matter
// how large the backend result was.
func Condense(issues []types.IssueSummary, scope string) string {
	if len(issues) == 0 {
		return fmt.Sprintf("No issues matched (%s).", scope)
	}

	if len(issues) <= condenseThreshold {
		var lines []string
		for _, is := range issues {
			lines = append(lines, fmt.Sprintf("%s [%s] %s — %s, %v pts",
				is.Key, is.Status, is.Summary, orDash(is.Assignee), is.StoryPoints))
		}
		return fmt.Sprintf("%d issue(s) (%s):\n%s", len(issues), scope, strings.Join(lines, "\n"))
	}

	statusCounts := map[string]int{}
	assigneeCounts := map[string]int{}
	for _, is := range issues {
		statusCounts[is.Status]++
		who := is.Assignee
		if who == "" {
			who = "unassigned"
		}
		assigneeCounts[who]++
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d issue(s) matched (%s), %v total points.\n", len(issues), scope, sumPoints(issues)))
	sb.WriteString("By status: " + renderCounts(statusCounts) + ".\n")
	sb.WriteString("By assignee: " + renderCounts(assigneeCounts) + ".\n")
	if topics := topicPhrases(issues); len(topics) > 0 {
		sb.WriteString("Common topics: " + strings.Join(topics, ", ") + ".\n")
	}
	sb.WriteString("The full list is shown to the user separately. Answer from these aggregates; do not re-enumerate individual issues.")
	return sb.String()
}

func renderCounts(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s %d", k, counts[k])
	}
	return strings.Join(parts, ", ")
}

// topicPhrases extracts the most frequent meaningful words from issue
// summaries as a rough topical signal.
func topicPhrases(issues []types.IssueSummary) []string {
	freq := map[string]int{}
	for _, is := range issues {
		for _, word := range strings.Fields(strings.ToLower(is.Summary)) {
			word = strings.Trim(word, ".,:;()[]\"'")
			if len(word) < 4 || stopWords[word] {
				continue
			}
			freq[word]++
		}
	}

	words := make([]string, 0, len(freq))
	for w, n := range freq {
		if n >= 2 {
			words = append(words, w)
		}
	}
	sort.Slice(words, func(i, j int) bool {
		if freq[words[i]] != freq[words[j]] {
			return freq[words[i]] > freq[words[j]]
		}
		return words[i] < words[j]
	})
	if len(words) > topicLimit {
		words = words[:topicLimit]
	}
	return words
}
