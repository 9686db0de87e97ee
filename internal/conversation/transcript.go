package conversation

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/exemi-au/exemi/internal/users"
)

// markdown renders message bodies. Raw HTML in messages is not passed
// through.
var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

var roleTitles = map[string]string{
	RoleUser:      "Student",
	RoleAssistant: "Exemi",
	RoleTool:      "Tool output",
}

// Transcript renders a conversation as a standalone HTML document, with
// times shown in loc.
func (s *Service) Transcript(ctx context.Context, id int64, u *users.User, loc *time.Location) ([]byte, error) {
	c, err := s.Get(ctx, id, u)
	if err != nil {
		return nil, err
	}
	return RenderTranscript(c, loc)
}

// RenderTranscript renders c, which must have its messages loaded.
func RenderTranscript(c *Conversation, loc *time.Location) ([]byte, error) {
	title := fmt.Sprintf("Conversation %d", c.ID)
	if c.Summary != "" {
		title = c.Summary
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, `<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>%s</title></head>
<body style="font-family: sans-serif; font-size: 14px; line-height: 1.5;">
<h1>%s</h1>
<p>Started %s</p>
`, html.EscapeString(title), html.EscapeString(title), c.CreatedAt.In(loc).Format("Monday, 2 January 2006, 03:04 PM"))

	for _, m := range c.Messages {
		who, ok := roleTitles[m.Role]
		if !ok {
			who = m.Role
		}
		fmt.Fprintf(&buf, "<section class=\"%s\">\n<h2>%s <small>%s</small></h2>\n",
			html.EscapeString(m.Role), html.EscapeString(who), m.CreatedAt.In(loc).Format("02/01/2006 03:04 PM"))
		if m.Role == RoleTool {
			fmt.Fprintf(&buf, "<pre>%s</pre>\n", html.EscapeString(m.Content))
		} else if err := markdown.Convert([]byte(m.Content), &buf); err != nil {
			return nil, fmt.Errorf("render message %d: %w", m.ID, err)
		}
		buf.WriteString("</section>\n")
	}
	buf.WriteString("</body></html>\n")
	return buf.Bytes(), nil
}
