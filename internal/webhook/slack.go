package webhook

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/kylemclaren/chat-tasks/internal/notify"
)

// Slack handles Slack webhook notifications
type Slack struct {
	url    string
	sender *sender
}

// NewSlack creates a new Slack webhook notifier posting to url
func NewSlack(url string) *Slack {
	return &Slack{url: url, sender: newSender()}
}

// SlackBlock is one Block Kit block
type SlackBlock struct {
	Type     string         `json:"type"`
	Text     *SlackTextObj  `json:"text,omitempty"`
	Fields   []SlackTextObj `json:"fields,omitempty"`
	Elements []SlackTextObj `json:"elements,omitempty"`
}

type SlackTextObj struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

// SlackAttachment wraps blocks so the message gets a coloured sidebar
type SlackAttachment struct {
	Color  string       `json:"color"`
	Blocks []SlackBlock `json:"blocks"`
}

type SlackPayload struct {
	Text        string            `json:"text,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// slackOutputLimit keeps the body section under Slack's 3000 char cap
const slackOutputLimit = 2500

func mrkdwn(text string) SlackTextObj {
	return SlackTextObj{Type: "mrkdwn", Text: text}
}

// Notify posts an execution outcome using Block Kit
func (s *Slack) Notify(ctx context.Context, n notify.Notification) error {
	color, icon, outcome := "#2EB67D", ":white_check_mark:", "Succeeded"
	if !n.Success {
		color, icon, outcome = "#E01E5A", ":x:", "Failed"
	}

	body := n.Response
	if body == "" {
		body = n.Body
	}
	body = convertToSlackMarkdown(body)
	switch {
	case body == "":
		body = "_No output_"
	case len(body) > slackOutputLimit:
		body = body[:slackOutputLimit] + "\n... _(truncated)_"
	}

	executed := fmt.Sprintf("<!date^%d^{date_short} {time}|%s>", n.Timestamp.Unix(), n.Timestamp.Format(time.RFC3339))
	header := SlackTextObj{Type: "plain_text", Text: icon + " " + n.Title, Emoji: true}
	section := mrkdwn(body)

	return s.sender.post(ctx, s.url, SlackPayload{
		Attachments: []SlackAttachment{{
			Color: color,
			Blocks: []SlackBlock{
				{Type: "header", Text: &header},
				{Type: "section", Fields: []SlackTextObj{
					mrkdwn("*Status:*\n" + outcome),
					mrkdwn(fmt.Sprintf("*Task:*\n#%d", n.TaskID)),
					mrkdwn("*Executed:*\n" + executed),
				}},
				{Type: "divider"},
				{Type: "section", Text: &section},
				{Type: "context", Elements: []SlackTextObj{mrkdwn(footerText)}},
			},
		}},
	})
}

var (
	mdBold    = regexp.MustCompile(`\*\*(.+?)\*\*`)
	mdLink    = regexp.MustCompile(`\[([^\]]+)\]\(([^)\s]+)\)`)
	mdHeading = regexp.MustCompile(`^\s*#{1,6}\s*(.*)$`)
)

// convertToSlackMarkdown rewrites bold, links and headings into Slack mrkdwn.
// Fenced code is left alone.
func convertToSlackMarkdown(text string) string {
	lines := strings.Split(text, "\n")
	fenced := false
	for i, line := range lines {
		if strings.HasPrefix(line, "```") {
			fenced = !fenced
			continue
		}
		if fenced {
			continue
		}
		line = mdBold.ReplaceAllString(line, "*$1*")
		line = mdLink.ReplaceAllString(line, "<$2|$1>")
		lines[i] = mdHeading.ReplaceAllString(line, "*$1*")
	}
	return strings.Join(lines, "\n")
}
