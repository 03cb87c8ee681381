package notify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreview(t *testing.T) {
	assert.Equal(t, "short", Preview("short", PreviewLength))

	long := strings.Repeat("a", 150)
	got := Preview(long, PreviewLength)
	assert.Equal(t, strings.Repeat("a", 100)+"...", got)

	// Multi-byte text is cut on character boundaries.
	assert.Equal(t, "你好...", Preview("你好世界", 2))
}

func TestNewAssignsDistinctIDs(t *testing.T) {
	a := New(1, "t", "b", true)
	b := New(1, "t", "b", true)
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestMulti(t *testing.T) {
	var got []string
	ok := Func(func(_ context.Context, n Notification) error {
		got = append(got, n.Title)
		return nil
	})
	failing := Func(func(context.Context, Notification) error {
		return errors.New("webhook down")
	})

	err := Multi{ok, nil, failing, ok}.Notify(context.Background(), New(1, "done", "", true))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "webhook down")
	assert.Equal(t, []string{"done", "done"}, got, "a failing notifier does not stop the others")

	assert.NoError(t, Log{}.Notify(context.Background(), New(2, "failed", "boom", false)))
}
