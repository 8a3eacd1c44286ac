package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/zkdca/internal/domain"
)

// positionEvent is the JSON shape published to the positions channel by the
// position service.
type positionEvent struct {
	Event       string `json:"event"`
	PositionID  string `json:"position_id"`
	InputToken  uint64 `json:"input_token"`
	OutputToken uint64 `json:"output_token"`
	InputAmount uint64 `json:"input_amount"`
	Height      uint64 `json:"height"`
	Status      string `json:"status"`
}

// Listener subscribes to position events on the signal bus and turns them
// into operator notifications.
type Listener struct {
	bus      domain.SignalBus
	notifier *Notifier
	logger   *slog.Logger
}

// NewListener creates a Listener on the given bus and notifier.
func NewListener(bus domain.SignalBus, notifier *Notifier, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "notify_listener")),
	}
}

// Run consumes position events until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	ch, err := l.bus.Subscribe(ctx, "positions")
	if err != nil {
		return fmt.Errorf("notify: subscribe positions: %w", err)
	}
	l.logger.Info("notify listener started")
	defer l.logger.Info("notify listener stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			l.handle(ctx, data)
		}
	}
}

func (l *Listener) handle(ctx context.Context, data []byte) {
	var ev positionEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		l.logger.Debug("unparseable event", slog.String("error", err.Error()))
		return
	}

	title, message := format(ev)
	if title == "" {
		return
	}
	if err := l.notifier.Notify(ctx, ev.Event, title, message); err != nil {
		l.logger.WarnContext(ctx, "notify failed",
			slog.String("event", ev.Event),
			slog.String("error", err.Error()),
		)
	}
}

func format(ev positionEvent) (title, message string) {
	switch ev.Event {
	case "position_created":
		return "Position created",
			fmt.Sprintf("id %s\n%d of token %d into token %d per interval",
				ev.PositionID, ev.InputAmount, ev.InputToken, ev.OutputToken)
	case "position_executed":
		return "Position executed",
			fmt.Sprintf("id %s\nheight %d", ev.PositionID, ev.Height)
	case "position_cancelled":
		return "Position cancelled", fmt.Sprintf("id %s", ev.PositionID)
	case "position_exhausted":
		return "Position exhausted", fmt.Sprintf("id %s", ev.PositionID)
	default:
		return "", ""
	}
}
