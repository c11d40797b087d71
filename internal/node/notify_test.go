package node

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNotifySlackSendsOnBrokenLinks(t *testing.T) {
	notifier := &fakeNotifier{}
	strategy := NewNotifySlack(notifier)()

	input := map[string]any{
		"checked_count": 5,
		"broken_count":  2,
		"broken": []any{
			map[string]any{"url": "https://shop.example/banner/2", "reason": "404 Not Found"},
			map[string]any{"url": "https://shop.example/banner/4", "reason": "timeout"},
		},
	}
	nc := testNodeContext(t, map[string]any{}, map[string]any{"task_name": "Banner links"})
	res, err := strategy.Execute(t.Context(), input, nc)
	require.NoError(t, err)
	require.Equal(t, true, res.Data["notified"])

	require.Len(t, notifier.messages, 1)
	require.Contains(t, notifier.titles[0], "Banner links")
	require.Contains(t, notifier.messages[0], "checked=5 broken=2")
	require.Contains(t, notifier.messages[0], "https://shop.example/banner/2")
}

func TestNotifySlackSkipsWhenNothingBroken(t *testing.T) {
	notifier := &fakeNotifier{}
	strategy := NewNotifySlack(notifier)()

	input := map[string]any{"checked_count": 5, "broken_count": 0}
	res, err := strategy.Execute(t.Context(), input, testNodeContext(t, map[string]any{}, nil))
	require.NoError(t, err)
	require.Equal(t, false, res.Data["notified"])
	require.Empty(t, notifier.messages)
}

func TestNotifySlackAlwaysFlag(t *testing.T) {
	notifier := &fakeNotifier{}
	strategy := NewNotifySlack(notifier)()

	input := map[string]any{"checked_count": 5, "broken_count": 0}
	nc := testNodeContext(t, map[string]any{"always": true, "title": "daily report"}, nil)
	res, err := strategy.Execute(t.Context(), input, nc)
	require.NoError(t, err)
	require.Equal(t, true, res.Data["notified"])
	require.Equal(t, []string{"daily report"}, notifier.titles)
}

// A broken webhook never fails a monitor job.
func TestNotifySlackSwallowsNotifierError(t *testing.T) {
	notifier := &fakeNotifier{err: errors.New("webhook 500")}
	strategy := NewNotifySlack(notifier)()

	input := map[string]any{"broken_count": 1, "broken": []any{}}
	res, err := strategy.Execute(t.Context(), input, testNodeContext(t, map[string]any{}, nil))
	require.NoError(t, err)
	require.Equal(t, false, res.Data["notified"])
}
