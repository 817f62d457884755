package assistant

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const preamble = `You are a duck assistant that can schedule meetings.
Always try to use the 'schedule_meeting' tool when appropriate and always end with a quack.
You should always consider the entire conversation history provided to generate your response.
Meeting dates use the form YYYY-MM-DD and times use 24-hour HH:MM in UTC.`

func (o *Orchestrator) systemInstruction(ctx context.Context, subjectID string) string {
	var b strings.Builder
	b.WriteString(preamble)
	fmt.Fprintf(&b, "\nAvailable tools: %s.", strings.Join(o.catalog.Names(), ", "))
	fmt.Fprintf(&b, "\nThe current time is %s.", o.now().UTC().Format(time.RFC1123))
	if o.userContext != nil {
		if uc := strings.TrimSpace(o.userContext(ctx, subjectID)); uc != "" {
			fmt.Fprintf(&b, "\nHere is some context about the user: %s", uc)
		}
	}
	return b.String()
}
