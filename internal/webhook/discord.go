package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/kylemclaren/chat-tasks/internal/notify"
)

// Discord handles Discord webhook notifications
type Discord struct {
	url    string
	sender *sender
}

// NewDiscord creates a new Discord webhook notifier posting to url
func NewDiscord(url string) *Discord {
	return &Discord{url: url, sender: newSender()}
}

// DiscordEmbed represents a Discord embed object
type DiscordEmbed struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Color       int          `json:"color"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
}

// EmbedField represents a field in a Discord embed
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// EmbedFooter represents the footer of a Discord embed
type EmbedFooter struct {
	Text string `json:"text"`
}

// DiscordPayload represents the webhook payload
type DiscordPayload struct {
	Content string         `json:"content,omitempty"`
	Embeds  []DiscordEmbed `json:"embeds,omitempty"`
}

// Notify posts an execution outcome as an embed
func (d *Discord) Notify(ctx context.Context, n notify.Notification) error {
	color := 0x00FF00 // Green
	statusEmoji := "✅"
	status := "succeeded"
	if !n.Success {
		color = 0xFF0000 // Red
		statusEmoji = "❌"
		status = "failed"
	}

	// Discord has a 4096 char limit for embed description
	output := n.Response
	if output == "" {
		output = n.Body
	}
	if len(output) > 3500 {
		output = output[:3500] + "\n\n*... (truncated)*"
	}
	if output == "" {
		output = "*No output*"
	}

	embed := DiscordEmbed{
		Title:       fmt.Sprintf("%s %s", statusEmoji, n.Title),
		Description: output,
		Color:       color,
		Fields: []EmbedField{
			{Name: "Status", Value: status, Inline: true},
			{Name: "Task", Value: fmt.Sprintf("#%d", n.TaskID), Inline: true},
		},
		Timestamp: n.Timestamp.Format(time.RFC3339),
		Footer:    &EmbedFooter{Text: footerText},
	}

	return d.sender.post(ctx, d.url, DiscordPayload{Embeds: []DiscordEmbed{embed}})
}
