package audit

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// NewFilterAuditor checks whether the filters actually applied are
// sufficient to answer the user's question. Catches silently narrowed
// queries.
func NewFilterAuditor(client ChatClient, model string, logger *zap.Logger) Verifier {
	return &llmVerifier{
		client: client,
		model:  model,
		logger: logger,
		name:   "filter",
		prompt: func(in Input) (string, bool) {
			if in.Question == "" || in.Filters == "" {
				return "", false
			}
			var sb strings.Builder
			sb.WriteString("A user asked:\n")
			sb.WriteString(in.Question + "\n\n")
			sb.WriteString("The system answered using only issues matching these filters:\n")
			sb.WriteString(in.Filters + "\n\n")
			sb.WriteString("Are these filters sufficient to answer the question, neither dropping data the question needs nor silently narrowing its scope? PASS or FAIL.")
			return sb.String(), true
		},
	}
}

// NewFactsAuditor checks the assistant's answer against a facts sheet built
// directly from tool results. Catches hallucinated counts and issue keys.
func NewFactsAuditor(client ChatClient, model string, logger *zap.Logger) Verifier {
	return &llmVerifier{
		client: client,
		model:  model,
		logger: logger,
		name:   "facts",
		prompt: func(in Input) (string, bool) {
			if in.Answer == "" || in.Facts == nil {
				return "", false
			}
			var sb strings.Builder
			sb.WriteString("Ground truth computed from backend data:\n")
			sb.WriteString(fmt.Sprintf("- total issues: %d\n", in.Facts.TotalCount))
			sb.WriteString(fmt.Sprintf("- total story points: %v\n", in.Facts.TotalPoints))
			if in.Facts.Filters != "" {
				sb.WriteString("- filters applied: " + in.Facts.Filters + "\n")
			}
			perPerson := map[string]int{}
			for _, is := range in.Facts.Issues {
				if is.Assignee != "" {
					perPerson[is.Assignee]++
				}
				sb.WriteString(fmt.Sprintf("- %s [%s] %s (%v pts) %s\n",
					is.Key, is.Status, is.Summary, is.StoryPoints, is.Assignee))
			}
			for person, n := range perPerson {
				sb.WriteString(fmt.Sprintf("- %s has %d issue(s)\n", person, n))
			}
			sb.WriteString("\nAssistant's answer:\n")
			sb.WriteString(in.Answer + "\n\n")
			sb.WriteString("Do the totals, per-person breakdowns and cited issue keys in the answer match the ground truth? PASS or FAIL with the discrepancy.")
			return sb.String(), true
		},
	}
}

// NewMutationAuditor compares a proposed create/update against the user's
// original request. Lenient about missing optional fields; strict about
// count mismatches, wrong assignees and unrelated summaries.
func NewMutationAuditor(client ChatClient, model string, logger *zap.Logger) Verifier {
	return &llmVerifier{
		client: client,
		model:  model,
		logger: logger,
		name:   "mutation",
		prompt: func(in Input) (string, bool) {
			if in.Proposed == nil || in.Request == "" {
				return "", false
			}
			var sb strings.Builder
			sb.WriteString("The user requested:\n")
			sb.WriteString(in.Request + "\n\n")
			sb.WriteString(fmt.Sprintf("The assistant proposes to run %s on %d issue(s):\n",
				in.Proposed.ToolName, len(in.Proposed.Issues)))
			for _, is := range in.Proposed.Issues {
				sb.WriteString(fmt.Sprintf("- key=%q summary=%q assignee=%q status=%q sprint=%d points=%v\n",
					is.Key, is.Summary, is.Assignee, is.Status, is.SprintID, is.StoryPoints))
			}
			sb.WriteString("\nJudge leniently: omitted optional fields are fine. ")
			sb.WriteString("Fail only if the issue count does not match the request, an assignee is wrong, or a summary is unrelated to what was asked. PASS or FAIL with the reason.")
			return sb.String(), true
		},
	}
}
