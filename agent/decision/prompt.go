package decision

import (
	"fmt"
	"strings"

	"github.com/BaSui01/webpilot/agent/action"
)

const decidePreamble = `You are an agent that controls a web browser.
Goal: %q

AVAILABLE ACTIONS (ONLY THESE 5):
1. {"action": "think", "text": "...", "reasoning": "..."}
2. {"action": "browse", "url": "...", "reasoning": "..."}
3. {"action": "click", "element_id": "...", "reasoning": "..."}
4. {"action": "type", "element_id": "...", "text": "...", "reasoning": "..."}
5. {"action": "finish", "result": "...", "reasoning": "..."}

Any other action is forbidden. Interactive elements carry a data-webpilot-id
attribute; use its value as element_id.
`

const classifyPreamble = `You help a web agent recover from a failed browser action.
Goal: %q
Page: %s
Failed action: %s
Error: %q

Possible error types:
- "stale_element": the element went stale or disappeared.
- "navigation_error": navigating to a new page failed.
- "element_not_found": the selector matched nothing.
- "unexpected_content": the page shows something unexpected (captcha, popup, 404).
- "login_failed": a login attempt was refused.
- "unknown": anything else.

Possible recovery strategies:
- "retry": run the same action again.
- "refresh": reload the page.
- "go_back": return to the previous page.
- "human_intervention": the agent cannot recover on its own.

Answer ONLY with a JSON object such as
{"error_type": "stale_element", "recovery_strategy": "refresh", "reasoning": "..."}
`

func window(history []action.Action, n int) []action.Action {
	if n <= 0 || len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

// buildDecidePrompt renders everything except the markup, which is appended
// by the caller after it has been fitted into the token budget.
func buildDecidePrompt(req Request, historyWindow int) (head, tail string) {
	var b strings.Builder
	fmt.Fprintf(&b, decidePreamble, req.Goal)

	if req.Hint != "" {
		b.WriteString("\nA similar goal was reached before with these steps:\n")
		b.WriteString(req.Hint)
		b.WriteString("\n")
	}

	b.WriteString("\nRecent actions:\n")
	recent := window(req.History, historyWindow)
	if len(recent) == 0 {
		b.WriteString("(none)\n")
	}
	for i, a := range recent {
		fmt.Fprintf(&b, "%d. %s\n", i+1, action.String(a))
	}

	fmt.Fprintf(&b, "\nCurrent URL: %s\nPage markup:\n---\n", req.Perception.URL)
	return b.String(), "\n---\nAnswer ONLY with the JSON of one of the 5 actions above.\n"
}

func buildClassifyPrompt(req ClassifyRequest) (head, tail string) {
	head = fmt.Sprintf(classifyPreamble, req.Goal, req.URL, req.FailedAction, req.ExceptionMessage) +
		"\nPage markup at the time of the failure:\n---\n"
	return head, "\n---\n"
}
