package presets

import (
	"testing"
	"time"

	"github.com/kylemclaren/chat-tasks/internal/chat"
	"github.com/kylemclaren/chat-tasks/internal/recurrence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplates(t *testing.T) {
	templates, err := Templates()
	require.NoError(t, err)
	require.Len(t, templates, 3)

	assert.Equal(t, "Daily news summary", templates[0].Name)
	assert.Equal(t, recurrence.Daily, templates[0].Frequency)
	assert.Equal(t, 9, templates[0].Hour)

	assert.Equal(t, recurrence.Weekly, templates[1].Frequency)
	assert.Equal(t, 18, templates[1].Hour)

	assert.Equal(t, 18, templates[2].Hour)
	assert.Equal(t, 30, templates[2].Minute)
}

func TestEveryTemplateHasANextRun(t *testing.T) {
	templates, err := Templates()
	require.NoError(t, err)

	now := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)
	for _, tmpl := range templates {
		next, err := recurrence.Next(tmpl.Task().Schedule(), now)
		require.NoError(t, err, tmpl.Name)
		assert.True(t, next.After(now), tmpl.Name)
	}
}

func TestFindTemplate(t *testing.T) {
	tmpl, ok := FindTemplate("code review REMINDER")
	require.True(t, ok)
	task := tmpl.Task()
	assert.Equal(t, "Code review reminder", task.Title)
	assert.Equal(t, 30, task.Minute)

	_, ok = FindTemplate("missing")
	assert.False(t, ok)
}

func TestProviders(t *testing.T) {
	providers, err := Providers()
	require.NoError(t, err)
	require.Len(t, providers, 3)
	assert.Equal(t, []string{"openai", "anthropic", "custom"},
		[]string{providers[0].Provider, providers[1].Provider, providers[2].Provider})

	p, ok := FindProvider("anthropic")
	require.True(t, ok)
	cfg := chat.DefaultConfig()
	cfg.APIKey = "sk-keep"
	cfg = p.Apply(cfg)
	assert.Equal(t, "https://api.anthropic.com/v1", cfg.BaseURL)
	assert.Equal(t, "claude-3-opus-20240229", cfg.Model)
	assert.Equal(t, "sk-keep", cfg.APIKey)
}

func TestParseRejectsBadYAML(t *testing.T) {
	_, err := parse([]byte("templates: [oops"))
	assert.Error(t, err)
}
