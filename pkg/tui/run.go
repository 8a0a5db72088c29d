package tui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/muesli/termenv"
	"go.uber.org/zap"

	"github.com/papercomputeco/koziky/pkg/conversation"
	"github.com/papercomputeco/koziky/pkg/events"
	"github.com/papercomputeco/koziky/pkg/orchestrator"
	"github.com/papercomputeco/koziky/pkg/render"
)

// Watcher is implemented by stores that can report changes made by other
// processes.
type Watcher interface {
	Watch(ctx context.Context, onChange func()) error
}

// Run starts the chat screen over store and blocks until the user quits.
func Run(ctx context.Context, config orchestrator.Config, store conversation.Storer, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(ctx)

	bus := events.NewLocalBus(logger)
	messages, err := bus.Subscribe(ctx, events.DefaultTopic)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribing to chat events: %w", err)
	}
	sink := events.NewWatermillSink(bus, events.DefaultTopic, logger)

	reconciler := conversation.NewReconciler(store, sink, logger)
	orch := orchestrator.New(config, reconciler, sink, logger)

	m := New(ctx, reconciler, orch, render.StyleFor(termenv.DefaultOutput()), logger)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx))

	go events.Forward(ctx, messages, logger, func(e events.Event) {
		p.Send(EventMsg{Event: e})
	})

	if w, ok := store.(Watcher); ok {
		if err := w.Watch(ctx, func() { p.Send(StoreChangedMsg{}) }); err != nil {
			logger.Warn("not watching store for changes", zap.Error(err))
		}
	}

	_, runErr := p.Run()
	interrupted := ctx.Err() != nil

	// A turn still streaming would publish into a bus nobody reads.
	orch.Cancel()
	cancel()
	if err := bus.Close(); err != nil {
		logger.Debug("closing event bus", zap.Error(err))
	}

	if runErr != nil && !interrupted {
		return fmt.Errorf("running chat: %w", runErr)
	}
	return nil
}
