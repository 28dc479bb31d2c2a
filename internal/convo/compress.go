package convo

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/clintrovert/excelsior/pkg/types"
)

// recentWindow is how many trailing turns stay verbatim when the working
// message list is compressed.
const recentWindow = 8

// maxDigestKeys caps how many issue keys a digest or synthetic summary
// carries.
const maxDigestKeys = 20

var (
	issueKeyRe = regexp.MustCompile(`\b[A-Z][A-Z0-9]+-\d+\b`)
	sprintRe   = regexp.MustCompile(`(?i)\bsprint\s+(\d+)\b`)
	mentionRe  = regexp.MustCompile(`@[\w.\-]+`)
	pointsRe   = regexp.MustCompile(`(?i)\b(\d+(?:\.\d+)?)\s+(?:story\s+)?points?\b`)
)

// Digest is the compact carry-over extracted from the latest assistant turn
// when a new message continues the conversation.
type Digest struct {
	IssueKeys []string
	Sprints   []string
	Mentions  []string
	Points    []string
}

// Empty reports whether nothing worth carrying was extracted.
func (d Digest) Empty() bool {
	return len(d.IssueKeys) == 0 && len(d.Sprints) == 0 && len(d.Mentions) == 0 && len(d.Points) == 0
}

// Render formats the digest as a system message body.
func (d Digest) Render() string {
	var parts []string
	if len(d.Sprints) > 0 {
		parts = append(parts, "sprints discussed: "+strings.Join(d.Sprints, ", "))
	}
	if len(d.Mentions) > 0 {
		parts = append(parts, "people discussed: "+strings.Join(d.Mentions, ", "))
	}
	if len(d.IssueKeys) > 0 {
		parts = append(parts, "issues discussed: "+strings.Join(d.IssueKeys, ", "))
	}
	if len(d.Points) > 0 {
		parts = append(parts, "point figures mentioned: "+strings.Join(d.Points, ", "))
	}
	return "Context from earlier in this conversation — " + strings.Join(parts, "; ")
}

// ExtractDigest pulls sprint, assignee, point and issue-key mentions out of
// one turn's text. Extraction is best-effort regex matching.
func ExtractDigest(text string) Digest {
	d := Digest{
		IssueKeys: dedup(issueKeyRe.FindAllString(text, maxDigestKeys)),
		Mentions:  dedup(mentionRe.FindAllString(text, -1)),
	}
	for _, m := range sprintRe.FindAllStringSubmatch(text, -1) {
		d.Sprints = append(d.Sprints, m[1])
	}
	d.Sprints = dedup(d.Sprints)
	for _, m := range pointsRe.FindAllStringSubmatch(text, -1) {
		d.Points = append(d.Points, m[1])
	}
	d.Points = dedup(d.Points)
	return d
}

// Compress bounds the working message list. Once history exceeds the recent
// window, older turns collapse into one synthetic system message carrying
// the union of their sprint references, mentions, capped issue keys and the
// last few user intents; recent turns stay verbatim.
func Compress(history []types.ConversationTurn) []types.ConversationTurn {
	if len(history) <= recentWindow {
		return history
	}

	older := history[:len(history)-recentWindow]
	recent := history[len(history)-recentWindow:]

	union := Digest{}
	var intents []string
	for _, turn := range older {
		d := ExtractDigest(turn.Content)
		union.IssueKeys = append(union.IssueKeys, d.IssueKeys...)
		union.Sprints = append(union.Sprints, d.Sprints...)
		union.Mentions = append(union.Mentions, d.Mentions...)
		union.Points = append(union.Points, d.Points...)
		if turn.Role == "user" {
			intents = append(intents, clip(turn.Content, 120))
		}
	}
	union.IssueKeys = capN(dedup(union.IssueKeys), maxDigestKeys)
	union.Sprints = dedup(union.Sprints)
	union.Mentions = dedup(union.Mentions)
	union.Points = dedup(union.Points)
	if len(intents) > 3 {
		intents = intents[len(intents)-3:]
	}

	body := fmt.Sprintf("Earlier conversation compressed (%d turns). ", len(older))
	if !union.Empty() {
		body += union.Render() + ". "
	}
	if len(intents) > 0 {
		body += "Recent user requests: " + strings.Join(intents, " | ")
	}

	out := make([]types.ConversationTurn, 0, len(recent)+1)
	out = append(out, types.ConversationTurn{Role: "system", Content: body})
	out = append(out, recent...)
	return out
}

func dedup(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func capN(in []string, n int) []string {
	if len(in) > n {
		return in[:n]
	}
	return in
}
