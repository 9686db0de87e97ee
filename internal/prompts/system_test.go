package prompts

import (
	"strings"
	"testing"
)

func TestStudentSystemPrompt(t *testing.T) {
	tests := []struct {
		name      string
		window    int
		reminders []DueReminder
		want      []string
		wantNot   []string
	}{
		{
			name:    "no reminders",
			window:  7,
			want:    []string{"Monday, 10/03/2025, 10:00 PM", "list_assignments", "ONE reminder per assignment"},
			wantNot: []string{"IMPORTANT"},
		},
		{
			name:   "with reminders",
			window: 7,
			reminders: []DueReminder{
				{AssignmentName: "Essay", Due: "Friday, 14/03/2025, 11:59 PM (4 days from now)", Description: "final draft"},
				{AssignmentName: "Quiz 2", Due: "Tuesday, 11/03/2025, 09:00 AM (tomorrow)"},
			},
			want: []string{
				"IMPORTANT: the student has reminders due within the next week.",
				"- Essay, due Friday, 14/03/2025, 11:59 PM (4 days from now) (final draft)",
				"- Quiz 2, due Tuesday, 11/03/2025, 09:00 AM (tomorrow)\n",
			},
		},
		{
			name:      "custom window",
			window:    10,
			reminders: []DueReminder{{AssignmentName: "Essay", Due: "soon"}},
			want:      []string{"due within the next 10 days."},
			wantNot:   []string{"next week"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := StudentSystemPrompt("Monday, 10/03/2025, 10:00 PM", tt.window, tt.reminders)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("prompt missing %q:\n%s", w, got)
				}
			}
			for _, w := range tt.wantNot {
				if strings.Contains(got, w) {
					t.Errorf("prompt unexpectedly contains %q", w)
				}
			}
		})
	}
}

func TestWindowPhrase(t *testing.T) {
	tests := map[int]string{0: "day", 1: "day", 3: "3 days", 7: "week", 14: "2 weeks", 10: "10 days"}
	for days, want := range tests {
		if got := windowPhrase(days); got != want {
			t.Errorf("windowPhrase(%d) = %q, want %q", days, got, want)
		}
	}
}
