package node

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/scan-orchestrator/internal/domain"
)

func TestCheckLinksReportsBroken(t *testing.T) {
	checker := &fakeChecker{statuses: map[string]domain.LinkStatus{
		"https://shop.example/banner/2": {URL: "https://shop.example/banner/2", StatusCode: 404, OK: false, Reason: "404 Not Found"},
	}}
	strategy := NewCheckLinks(checker)()

	nc := testNodeContext(t, map[string]any{
		"urls": []any{"https://shop.example/banner/1", "https://shop.example/banner/2"},
	}, nil)
	res, err := strategy.Execute(t.Context(), nil, nc)
	require.NoError(t, err)
	require.Equal(t, 2, res.Data["checked_count"])
	require.Equal(t, 1, res.Data["broken_count"])

	broken := res.Data["broken"].([]any)
	require.Len(t, broken, 1)
	row := broken[0].(map[string]any)
	require.Equal(t, "https://shop.example/banner/2", row["url"])
	require.Equal(t, 404, row["status_code"])
}

func TestCheckLinksFallsBackToInputURLs(t *testing.T) {
	strategy := NewCheckLinks(&fakeChecker{})()

	input := map[string]any{"urls": []any{"https://shop.example/vote/1"}}
	res, err := strategy.Execute(t.Context(), input, testNodeContext(t, map[string]any{}, nil))
	require.NoError(t, err)
	require.Equal(t, 1, res.Data["checked_count"])
	require.Equal(t, 0, res.Data["broken_count"])
}

func TestCheckLinksNoURLs(t *testing.T) {
	strategy := NewCheckLinks(&fakeChecker{})()

	res, err := strategy.Execute(t.Context(), map[string]any{}, testNodeContext(t, map[string]any{}, nil))
	require.NoError(t, err)
	require.Equal(t, 0, res.Data["checked_count"])
	require.Equal(t, []any{}, res.Data["broken"])
}

func TestCheckLinksTransportError(t *testing.T) {
	strategy := NewCheckLinks(&fakeChecker{err: errors.New("dial timeout")})()

	nc := testNodeContext(t, map[string]any{"urls": []any{"https://shop.example/pick/1"}}, nil)
	_, err := strategy.Execute(t.Context(), nil, nc)
	require.ErrorContains(t, err, "dial timeout")
}

// fakeMonitorState records completion stamps; the flag and counter surface is
// inert.
type fakeMonitorState struct {
	completed map[string]time.Time
	err       error
}

func (s *fakeMonitorState) CompletedAt(_ context.Context, taskID string) (time.Time, error) {
	return s.completed[taskID], nil
}

func (s *fakeMonitorState) SetCompletedAt(_ context.Context, taskID string, at time.Time) error {
	if s.err != nil {
		return s.err
	}
	if s.completed == nil {
		s.completed = make(map[string]time.Time)
	}
	s.completed[taskID] = at
	return nil
}

func (s *fakeMonitorState) IsCooldownComplete(context.Context, string, time.Duration) (bool, error) {
	return true, nil
}
func (s *fakeMonitorState) Enabled(context.Context) (bool, error)  { return true, nil }
func (s *fakeMonitorState) SetEnabled(context.Context, bool) error { return nil }
func (s *fakeMonitorState) Heartbeat(context.Context) error        { return nil }
func (s *fakeMonitorState) HeartbeatAt(context.Context) (time.Time, error) {
	return time.Time{}, nil
}
func (s *fakeMonitorState) IncrementExecuted(context.Context) error { return nil }
func (s *fakeMonitorState) ExecutedCount(context.Context) (int64, error) {
	return 0, nil
}

func TestRecordMonitorCompletion(t *testing.T) {
	state := &fakeMonitorState{}
	strategy := NewRecordMonitorCompletion(state)()

	nc := testNodeContext(t, nil, map[string]any{"task_id": "banner-check"})
	res, err := strategy.Execute(t.Context(), nil, nc)
	require.NoError(t, err)
	require.Equal(t, "banner-check", res.Data["task_id"])
	require.WithinDuration(t, time.Now(), state.completed["banner-check"], time.Second)

	// Missing task_id param is a hard error; the watcher relies on the stamp.
	_, err = strategy.Execute(t.Context(), nil, testNodeContext(t, nil, nil))
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}
