package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	mu     sync.Mutex
	name   string
	titles []string
	err    error
}

func (s *recordingSender) Send(_ context.Context, title, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.titles = append(s.titles, title)
	return nil
}

func (s *recordingSender) Name() string { return s.name }

func TestNotifierFiltersEvents(t *testing.T) {
	sender := &recordingSender{name: "test"}
	n := NewNotifier([]Sender{sender}, []string{"position_executed"}, slog.Default())

	require.NoError(t, n.Notify(context.Background(), "position_created", "created", ""))
	require.NoError(t, n.Notify(context.Background(), "position_executed", "executed", ""))

	assert.Equal(t, []string{"executed"}, sender.titles)
}

func TestNotifierEmptyAllowListPassesEverything(t *testing.T) {
	sender := &recordingSender{name: "test"}
	n := NewNotifier([]Sender{sender}, nil, slog.Default())

	require.NoError(t, n.Notify(context.Background(), "anything", "t", "m"))
	assert.Len(t, sender.titles, 1)
}

func TestNotifierFailingSenderDoesNotBlockOthers(t *testing.T) {
	broken := &recordingSender{name: "broken", err: errors.New("down")}
	healthy := &recordingSender{name: "healthy"}
	n := NewNotifier([]Sender{broken, healthy}, nil, slog.Default())

	err := n.Notify(context.Background(), "ev", "title", "msg")
	assert.Error(t, err)
	assert.Equal(t, []string{"title"}, healthy.titles)
}

func TestFormatKnownEvents(t *testing.T) {
	tests := []struct {
		event string
		title string
	}{
		{"position_created", "Position created"},
		{"position_executed", "Position executed"},
		{"position_cancelled", "Position cancelled"},
		{"position_exhausted", "Position exhausted"},
		{"unknown_event", ""},
	}
	for _, tt := range tests {
		title, _ := format(positionEvent{Event: tt.event, PositionID: "p1"})
		assert.Equal(t, tt.title, title, tt.event)
	}
}
