package tui

import (
	"context"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/kylemclaren/chat-tasks/internal/chat"
	"github.com/kylemclaren/chat-tasks/internal/presets"
)

const (
	settingProvider = iota
	settingBaseURL
	settingAPIKey
	settingModel
	settingTemperature
	settingMaxTokens
	settingCount
)

var settingLabels = [settingCount]string{
	"Provider", "Base URL", "API Key", "Model", "Temperature", "Max Tokens",
}

type settingsForm struct {
	inputs    [settingCount]textinput.Model
	providers []presets.Provider
	provider  int
	focus     int
	current   chat.ModelConfig
	err       string
}

func newSettingsForm() settingsForm {
	f := settingsForm{}
	f.providers, _ = presets.Providers()
	for i := range f.inputs {
		in := textinput.New()
		in.CharLimit = 200
		in.Width = 60
		f.inputs[i] = in
	}
	f.inputs[settingAPIKey].EchoMode = textinput.EchoPassword
	f.inputs[settingAPIKey].Placeholder = "leave blank to keep the saved key"
	f.inputs[settingTemperature].CharLimit = 4
	f.inputs[settingMaxTokens].CharLimit = 7
	return f
}

type settingsLoadedMsg struct{ cfg chat.ModelConfig }
type settingsSavedMsg struct{ cfg chat.ModelConfig }

func (m *Model) loadSettings() tea.Cmd {
	provider := m.deps.Settings
	return func() tea.Msg {
		cfg, err := provider.Load(context.Background())
		if err != nil {
			return errMsg{err}
		}
		return settingsLoadedMsg{cfg}
	}
}

func (f *settingsForm) fill(cfg chat.ModelConfig) {
	f.current = cfg
	f.err = ""
	f.provider = len(f.providers) - 1
	for i, p := range f.providers {
		if p.Provider == cfg.Provider {
			f.provider = i
			break
		}
	}
	f.inputs[settingBaseURL].SetValue(cfg.BaseURL)
	f.inputs[settingAPIKey].SetValue("")
	f.inputs[settingAPIKey].Placeholder = cfg.MaskedAPIKey()
	f.inputs[settingModel].SetValue(cfg.Model)
	f.inputs[settingTemperature].SetValue(strconv.FormatFloat(float64(cfg.Temperature), 'f', -1, 32))
	f.inputs[settingMaxTokens].SetValue(strconv.Itoa(cfg.MaxTokens))
	f.focusField(settingProvider)
}

func (f *settingsForm) focusField(field int) {
	for i := range f.inputs {
		f.inputs[i].Blur()
	}
	f.focus = field
	if field != settingProvider {
		f.inputs[field].Focus()
	}
}

// cycleProvider applies the next provider preset's endpoint and model
func (f *settingsForm) cycleProvider(delta int) {
	if len(f.providers) == 0 {
		return
	}
	f.provider = (f.provider + delta + len(f.providers)) % len(f.providers)
	p := f.providers[f.provider]
	if p.BaseURL != "" {
		f.inputs[settingBaseURL].SetValue(p.BaseURL)
	}
	if p.Model != "" {
		f.inputs[settingModel].SetValue(p.Model)
	}
}

// config reads the inputs into a model config based on the loaded one
func (f *settingsForm) config() (chat.ModelConfig, bool) {
	cfg := f.current
	if len(f.providers) > 0 {
		cfg.Provider = f.providers[f.provider].Provider
	}
	cfg.BaseURL = strings.TrimSpace(f.inputs[settingBaseURL].Value())
	if key := strings.TrimSpace(f.inputs[settingAPIKey].Value()); key != "" {
		cfg.APIKey = key
	}
	cfg.Model = strings.TrimSpace(f.inputs[settingModel].Value())

	temp, err := strconv.ParseFloat(strings.TrimSpace(f.inputs[settingTemperature].Value()), 32)
	if err != nil {
		f.err = "Temperature must be a number"
		return cfg, false
	}
	cfg.Temperature = float32(temp)

	tokens, err := strconv.Atoi(strings.TrimSpace(f.inputs[settingMaxTokens].Value()))
	if err != nil {
		f.err = "Max tokens must be a whole number"
		return cfg, false
	}
	cfg.MaxTokens = tokens
	f.err = ""
	return cfg, true
}

func (m *Model) handleSettingsMsg(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case settingsLoadedMsg:
		m.settings.fill(msg.cfg)
		return m, textinput.Blink
	case settingsSavedMsg:
		m.settings.current = msg.cfg
		m.setStatus("Settings saved: "+msg.cfg.Model, false)
		m.currentView = ViewList
	}
	return m, nil
}

func (m *Model) updateSettings(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	f := &m.settings
	switch msg.String() {
	case "esc":
		m.currentView = ViewList
		return m, nil
	case "tab", "down":
		f.focusField((f.focus + 1) % settingCount)
		return m, textinput.Blink
	case "shift+tab", "up":
		f.focusField((f.focus + settingCount - 1) % settingCount)
		return m, textinput.Blink
	case "left", "right":
		if f.focus == settingProvider {
			delta := 1
			if msg.String() == "left" {
				delta = -1
			}
			f.cycleProvider(delta)
			return m, nil
		}
	case "enter", "ctrl+s":
		cfg, ok := f.config()
		if !ok {
			return m, nil
		}
		provider := m.deps.Settings
		return m, func() tea.Msg {
			if err := provider.Save(context.Background(), cfg); err != nil {
				return errMsg{err}
			}
			return settingsSavedMsg{cfg}
		}
	}

	if f.focus == settingProvider {
		return m, nil
	}
	var cmd tea.Cmd
	f.inputs[f.focus], cmd = f.inputs[f.focus].Update(msg)
	return m, cmd
}

func (m Model) renderSettings() string {
	f := m.settings
	var b strings.Builder

	b.WriteString(spriteIcon + " " + logoStyle.Render("Model Settings"))
	b.WriteString("\n\n")

	for i := 0; i < settingCount; i++ {
		b.WriteString(inputLabelStyle.Render(settingLabels[i]))
		if i == settingProvider {
			b.WriteString("  ")
			b.WriteString(subtitleStyle.Render("←/→ to apply a preset"))
		}
		b.WriteString("\n")

		style := blurredInputStyle
		if i == f.focus {
			style = focusedInputStyle
		}
		if i == settingProvider {
			name := "-"
			if len(f.providers) > 0 {
				name = f.providers[f.provider].Name
			}
			b.WriteString(style.Render(name))
		} else {
			b.WriteString(style.Render(f.inputs[i].View()))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if f.err != "" {
		b.WriteString(errorMsgStyle.Render("✗ " + f.err))
		b.WriteString("\n")
	}
	b.WriteString(m.renderStatus())
	b.WriteString(helpLine("tab", "next", "enter", "save", "esc", "cancel"))
	return b.String()
}
