package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines keybindings for the task list
type KeyMap struct {
	Up       key.Binding
	Down     key.Binding
	Add      key.Binding
	Quick    key.Binding
	Preset   key.Binding
	Edit     key.Binding
	Delete   key.Binding
	Toggle   key.Binding
	Run      key.Binding
	Enter    key.Binding
	Chat     key.Binding
	Settings key.Binding
	Search   key.Binding
	Help     key.Binding
	Quit     key.Binding
}

var keys = KeyMap{
	Up:       key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Down:     key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	Add:      key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "add")),
	Quick:    key.NewBinding(key.WithKeys("n"), key.WithHelp("n", "quick task")),
	Preset:   key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "from template")),
	Edit:     key.NewBinding(key.WithKeys("e"), key.WithHelp("e", "edit")),
	Delete:   key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "delete")),
	Toggle:   key.NewBinding(key.WithKeys("t"), key.WithHelp("t", "pause/resume")),
	Run:      key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "run now")),
	Enter:    key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "history")),
	Chat:     key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "chat")),
	Settings: key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "settings")),
	Search:   key.NewBinding(key.WithKeys("/"), key.WithHelp("/", "search")),
	Help:     key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
	Quit:     key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Add, k.Quick, k.Run, k.Toggle, k.Chat, k.Settings, k.Help, k.Quit}
}

func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Enter, k.Search},
		{k.Add, k.Quick, k.Preset, k.Edit, k.Delete},
		{k.Toggle, k.Run, k.Chat, k.Settings, k.Quit},
	}
}
