package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/crate/internal/tasks"
	"github.com/desertthunder/crate/internal/ui"
)

// Review runs the build inside the interactive TUI, which asks before publishing.
func (r *Runner) Review(ctx context.Context, builder ui.Builder, opts tasks.BuildOptions) (*tasks.BuildResult, error) {
	model := ui.NewModel(ctx, builder, opts)
	p := tea.NewProgram(model, tea.WithAltScreen())

	if _, err := p.Run(); err != nil {
		return nil, fmt.Errorf("error running TUI: %w", err)
	}

	return model.Result()
}
