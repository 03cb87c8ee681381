package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/kylemclaren/chat-tasks/internal/conversation"
	"github.com/kylemclaren/chat-tasks/internal/db"
)

type chatState struct {
	conversations []*db.Conversation
	current       *db.Conversation
	messages      []*db.Message
	input         textinput.Model
	viewport      viewport.Model
	pending       bool
	pendingText   string
	partial       string
}

func newChatState() chatState {
	in := textinput.New()
	in.Placeholder = "Send a message..."
	in.CharLimit = 4000
	in.Width = 70
	return chatState{input: in, viewport: viewport.New(80, 20)}
}

func (c *chatState) resize(width, height int) {
	c.input.Width = max(width-10, 20)
	c.viewport.Width = width - 6
	c.viewport.Height = max(height-12, 5)
}

type chatHistoryMsg struct {
	conversations []*db.Conversation
	current       *db.Conversation
	messages      []*db.Message
}

type chatChunkMsg struct {
	text string
	ch   <-chan tea.Msg
}

type chatReplyMsg struct {
	reply *conversation.Reply
	err   error
}

// openChat loads the conversation list and selects the most recent one
func (m *Model) openChat() tea.Cmd {
	m.chat.input.Focus()
	return tea.Batch(textinput.Blink, m.loadChat(0))
}

func (m *Model) loadChat(id int64) tea.Cmd {
	return fetchChat(m.deps.Conversations, id)
}

// fetchChat loads conversation id, or the most recent one when id is 0
func fetchChat(svc *conversation.Service, id int64) tea.Cmd {
	return func() tea.Msg {
		convs, err := svc.List()
		if err != nil {
			return errMsg{err}
		}
		msg := chatHistoryMsg{conversations: convs}
		if id == 0 && len(convs) > 0 {
			id = convs[0].ID
		}
		for _, c := range convs {
			if c.ID == id {
				msg.current = c
			}
		}
		if msg.current != nil {
			msg.messages, err = svc.Messages(msg.current.ID)
			if err != nil {
				return errMsg{err}
			}
		}
		return msg
	}
}

// send runs one turn in the background, forwarding streamed chunks
func (m *Model) send(text string) tea.Cmd {
	svc := m.deps.Conversations
	var convID int64
	if m.chat.current != nil {
		convID = m.chat.current.ID
	}

	ch := make(chan tea.Msg, 64)
	go func() {
		defer close(ch)
		reply, err := svc.Send(context.Background(), convID, text, func(chunk string) {
			ch <- chatChunkMsg{text: chunk, ch: ch}
		})
		ch <- chatReplyMsg{reply: reply, err: err}
	}()
	return waitChat(ch)
}

func waitChat(ch <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return msg
	}
}

func (m *Model) handleChatMsg(msg tea.Msg) (tea.Model, tea.Cmd) {
	c := &m.chat
	switch msg := msg.(type) {
	case chatHistoryMsg:
		c.conversations = msg.conversations
		c.current = msg.current
		c.messages = msg.messages
	case chatChunkMsg:
		c.partial += msg.text
		m.refreshChat()
		return m, waitChat(msg.ch)
	case chatReplyMsg:
		c.pending = false
		c.pendingText = ""
		c.partial = ""
		var id int64
		if msg.reply != nil && msg.reply.Conversation != nil {
			id = msg.reply.Conversation.ID
		}
		if msg.err != nil {
			m.setStatus("Error: "+msg.err.Error(), true)
		}
		if id != 0 {
			return m, m.loadChat(id)
		}
	}
	m.refreshChat()
	return m, nil
}

func (m *Model) refreshChat() {
	m.chat.viewport.SetContent(m.renderChatContent())
	m.chat.viewport.GotoBottom()
}

// selectConversation moves delta places through the list
func (m *Model) selectConversation(delta int) tea.Cmd {
	convs := m.chat.conversations
	if len(convs) == 0 {
		return nil
	}
	pos := 0
	for i, c := range convs {
		if m.chat.current != nil && c.ID == m.chat.current.ID {
			pos = i
		}
	}
	pos = (pos + delta + len(convs)) % len(convs)
	return m.loadChat(convs[pos].ID)
}

func (m *Model) updateChat(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	c := &m.chat
	switch msg.String() {
	case "esc":
		c.input.Blur()
		m.currentView = ViewList
		return m, nil
	case "ctrl+n":
		if c.pending {
			return m, nil
		}
		c.current = nil
		c.messages = nil
		m.refreshChat()
		return m, nil
	case "ctrl+k":
		return m, m.selectConversation(-1)
	case "ctrl+j":
		return m, m.selectConversation(1)
	case "pgup", "pgdown":
		var cmd tea.Cmd
		c.viewport, cmd = c.viewport.Update(msg)
		return m, cmd
	case "ctrl+d":
		if c.current == nil || c.pending {
			return m, nil
		}
		svc, id := m.deps.Conversations, c.current.ID
		return m, func() tea.Msg {
			if err := svc.Delete(id); err != nil {
				return errMsg{err}
			}
			return fetchChat(svc, 0)()
		}
	case "enter":
		text := strings.TrimSpace(c.input.Value())
		if text == "" || c.pending {
			return m, nil
		}
		c.input.SetValue("")
		c.pending = true
		c.pendingText = text
		m.refreshChat()
		return m, m.send(text)
	}

	var cmd tea.Cmd
	c.input, cmd = c.input.Update(msg)
	return m, cmd
}

func (m Model) renderChat() string {
	c := m.chat
	var b strings.Builder

	title := conversation.DefaultTitle
	if c.current != nil {
		title = c.current.Title
	}
	b.WriteString(spriteIcon + " " + logoStyle.Render(title))
	if n := len(c.conversations); n > 0 {
		b.WriteString("  ")
		b.WriteString(subtitleStyle.Render(pluralize(n, "conversation")))
	}
	b.WriteString("\n\n")

	b.WriteString(c.viewport.View())
	b.WriteString("\n")
	if c.pending {
		b.WriteString(m.spinner.View() + " " + statusRunning.Render("thinking..."))
		b.WriteString("\n")
	}
	b.WriteString(focusedInputStyle.Render(c.input.View()))
	b.WriteString("\n")
	b.WriteString(m.renderStatus())
	b.WriteString(helpLine("enter", "send", "ctrl+n", "new", "ctrl+k/j", "switch", "ctrl+d", "delete", "esc", "back"))
	return b.String()
}

func (m Model) renderChatContent() string {
	c := m.chat
	if len(c.messages) == 0 && !c.pending {
		return emptyBoxStyle.Render("Start a conversation by typing below")
	}

	var b strings.Builder
	for _, msg := range c.messages {
		writeChatMessage(&b, m, msg.Role, msg.Content)
	}
	if c.pending {
		writeChatMessage(&b, m, db.RoleUser, c.pendingText)
		if c.partial != "" {
			writeChatMessage(&b, m, db.RoleAssistant, c.partial)
		}
	}
	return b.String()
}

func writeChatMessage(b *strings.Builder, m Model, role db.MessageRole, content string) {
	switch role {
	case db.RoleUser:
		b.WriteString(userLabelStyle.Render("You"))
		b.WriteString("\n")
		b.WriteString(content)
		b.WriteString("\n\n")
	default:
		b.WriteString(assistantLabelStyle.Render("Assistant"))
		b.WriteString("\n")
		b.WriteString(m.renderMarkdown(content))
		b.WriteString("\n")
	}
}

func pluralize(n int, word string) string {
	if n == 1 {
		return "1 " + word
	}
	return fmt.Sprintf("%d %ss", n, word)
}
