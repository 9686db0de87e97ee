package prompts

import (
	"fmt"
	"strings"
)

const studentSystemTemplate = `You are Exemi, a friendly study assistant for university students.
You help students plan their assessments, keep track of due dates and stay motivated.

The current date and time is %s.
%s
## Tools
- list_assignments: fetches the student's current assignments from their learning management system.
- create_reminder: saves a reminder for an assignment.

## Rules
- Only create ONE reminder per assignment. Check the reminders listed above before creating another.
- ALWAYS call list_assignments before create_reminder so that the assignment name and due date are exact.
- Reminder due dates must be ISO-8601, for example 2025-03-14T23:59:00.
- Do not call tools for greetings or small talk; respond conversationally.
- Incorporate tool results naturally. Do not paste raw tool output back to the student.
- Keep answers short, warm and practical.`

// DueReminder is a reminder line for the system prompt.
type DueReminder struct {
	AssignmentName string
	Description    string
	Due            string
}

// StudentSystemPrompt returns the system prompt for a student
// conversation. now is the localized current time; reminders are those
// due in the next windowDays calendar days, already formatted for
// display.
func StudentSystemPrompt(now string, windowDays int, reminders []DueReminder) string {
	return fmt.Sprintf(studentSystemTemplate, now, reminderNotice(windowDays, reminders))
}

// windowPhrase names a window of days: "day", "week" or "10 days".
func windowPhrase(days int) string {
	switch {
	case days <= 1:
		return "day"
	case days == 7:
		return "week"
	case days%7 == 0:
		return fmt.Sprintf("%d weeks", days/7)
	default:
		return fmt.Sprintf("%d days", days)
	}
}

func reminderNotice(windowDays int, reminders []DueReminder) string {
	if len(reminders) == 0 {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "\nIMPORTANT: the student has reminders due within the next %s.\n", windowPhrase(windowDays))
	sb.WriteString("Mention them if they are relevant to the conversation:\n")
	for _, r := range reminders {
		fmt.Fprintf(&sb, "- %s, due %s", r.AssignmentName, r.Due)
		if r.Description != "" {
			fmt.Fprintf(&sb, " (%s)", r.Description)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
