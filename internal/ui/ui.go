package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/crate/internal/shared"
	"github.com/desertthunder/crate/internal/tasks"
)

// ViewState represents the current view in the TUI.
type ViewState int

const (
	ProgressView ViewState = iota
	ReviewView
	ResultView
)

// Builder runs the playlist pipeline. Satisfied by [tasks.PlaylistBuilder].
type Builder interface {
	Run(ctx context.Context, opts tasks.BuildOptions, progress chan<- tasks.ProgressUpdate) (*tasks.BuildResult, error)
}

// Model represents the TUI application state.
type Model struct {
	ctx          context.Context
	cancel       context.CancelFunc
	view         ViewState
	builder      Builder
	opts         tasks.BuildOptions
	width        int
	height       int
	spinner      spinner.Model
	pickList     list.Model
	review       *tasks.BuildResult
	progressChan chan tasks.ProgressUpdate
	reviewChan   chan *tasks.BuildResult
	decisionChan chan bool
	doneChan     chan buildOutcome
	progress     tasks.ProgressUpdate
	result       *tasks.BuildResult
	err          error
	done         bool
	quitting     bool
	help         help.Model
	keys         keyMap
}

// NewModel creates a review TUI that runs builder with opts. Any Confirm callback in opts is replaced.
func NewModel(ctx context.Context, builder Builder, opts tasks.BuildOptions) *Model {
	ctx, cancel := context.WithCancel(ctx)
	return &Model{
		ctx:          ctx,
		cancel:       cancel,
		view:         ProgressView,
		builder:      builder,
		opts:         opts,
		spinner:      spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(styles.ok)),
		progressChan: make(chan tasks.ProgressUpdate, 50),
		reviewChan:   make(chan *tasks.BuildResult, 1),
		decisionChan: make(chan bool, 1),
		doneChan:     make(chan buildOutcome, 1),
		help:         help.New(),
		keys:         newKeyMap(),
	}
}

// listSize leaves room for the help line, falling back to 80x24 before the first resize.
func (m *Model) listSize() (int, int) {
	if m.width <= 0 || m.height <= 0 {
		return 76, 16
	}
	return m.width - 4, m.height - 8
}

// Result returns the outcome of the build once the program has exited.
func (m *Model) Result() (*tasks.BuildResult, error) {
	if !m.done {
		return m.result, fmt.Errorf("%w: build did not finish", context.Canceled)
	}
	return m.result, m.err
}

// Init starts the spinner and the build.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.start())
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if m.review != nil {
			m.pickList.SetSize(m.listSize())
		}
		return m, nil

	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		switch m.view {
		case ProgressView:
			return m.handleProgressKeys(msg)
		case ReviewView:
			return m.handleReviewKeys(msg)
		case ResultView:
			return m.handleResultKeys(msg)
		}

	case Msg:
		return m.handleMsg(msg)
	}

	return m, nil
}

func (m *Model) handleMsg(msg Msg) (tea.Model, tea.Cmd) {
	switch msg.kind {
	case MsgProgressUpdate:
		m.progress = msg.data.(tasks.ProgressUpdate)
		return m, m.waitForEvent()

	case MsgReviewReady:
		m.review = msg.data.(*tasks.BuildResult)
		m.pickList = list.New(pickItems(m.review), list.NewDefaultDelegate(), 0, 0)
		m.pickList.Title = fmt.Sprintf("%s • %d tracks • %s", m.opts.Name, len(m.review.Selected), m.review.Selection.Ranker)
		m.pickList.SetShowHelp(false)
		m.pickList.SetSize(m.listSize())
		m.view = ReviewView
		return m, m.waitForEvent()

	case MsgBuildComplete:
		out := msg.data.(buildOutcome)
		m.result, m.err = out.result, out.err
		m.done = true
		m.view = ResultView
		if m.quitting {
			return m, tea.Quit
		}
		return m, nil
	}
	return m, nil
}

// View renders the UI based on the current view state.
func (m *Model) View() string {
	switch m.view {
	case ProgressView:
		return m.renderProgress()
	case ReviewView:
		return m.renderReview()
	case ResultView:
		return m.renderResult()
	default:
		return ""
	}
}

func (m *Model) handleProgressKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.quit) {
		return m.abort()
	}
	return m, nil
}

func (m *Model) handleReviewKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m.abort()
	case key.Matches(msg, m.keys.yes):
		return m.decide(true)
	case key.Matches(msg, m.keys.no):
		return m.decide(false)
	}

	var cmd tea.Cmd
	m.pickList, cmd = m.pickList.Update(msg)
	return m, cmd
}

func (m *Model) handleResultKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "enter", "esc":
		return m, tea.Quit
	}
	return m, nil
}

// decide answers the pending review. The build goroutine is blocked in confirm until it does.
func (m *Model) decide(publish bool) (tea.Model, tea.Cmd) {
	m.decisionChan <- publish
	m.view = ProgressView
	return m, nil
}

// abort cancels the build and quits once it has unwound. A second quit leaves immediately.
func (m *Model) abort() (tea.Model, tea.Cmd) {
	if m.quitting || m.done {
		return m, tea.Quit
	}
	m.quitting = true
	m.cancel()
	m.view = ProgressView
	return m, nil
}

func (m *Model) start() tea.Cmd {
	opts := m.opts
	opts.Confirm = m.confirm

	go func() {
		result, err := m.builder.Run(m.ctx, opts, m.progressChan)
		m.doneChan <- buildOutcome{result: result, err: err}
	}()

	return m.waitForEvent()
}

// confirm hands the ranked result to the UI and waits for the user's answer.
func (m *Model) confirm(ctx context.Context, res *tasks.BuildResult) (bool, error) {
	select {
	case m.reviewChan <- res:
	case <-ctx.Done():
		return false, ctx.Err()
	}

	select {
	case publish := <-m.decisionChan:
		return publish, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (m *Model) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		select {
		case update := <-m.progressChan:
			return progressUpdateMsg(update)
		case res := <-m.reviewChan:
			return reviewReadyMsg(res)
		case out := <-m.doneChan:
			return buildCompleteMsg(out.result, out.err)
		}
	}
}

func phaseLabel(u tasks.ProgressUpdate) string {
	switch u.Phase {
	case tasks.FetchLiked:
		return "Fetching liked tracks..."
	case tasks.EnrichTracks:
		if u.Total > 0 {
			return fmt.Sprintf("Enriching tracks (%d/%d)", u.Step, u.Total)
		}
		return "Enriching tracks..."
	case tasks.RankTracks:
		return "Ranking tracks..."
	case tasks.ReviewSelection:
		return "Waiting for review..."
	case tasks.PublishPlaylist:
		return "Publishing playlist..."
	case tasks.Complete:
		return "Finishing..."
	default:
		return "Starting..."
	}
}

func (m *Model) renderProgress() string {
	title := styles.title.Render(fmt.Sprintf("Building '%s'", m.opts.Name))

	status := fmt.Sprintf("%s %s", m.spinner.View(), phaseLabel(m.progress))
	if m.quitting {
		status = styles.warn.Render("Cancelling...")
	}

	helpView := m.help.ShortHelpView([]key.Binding{m.keys.quit})
	return fmt.Sprintf("%s\n%s\n%s\n\n%s", title, status, styles.help.Render(m.progress.Message), helpView)
}

func (m *Model) renderReview() string {
	helpKeys := []key.Binding{m.keys.yes, m.keys.no, m.keys.up, m.keys.down, m.keys.quit}
	helpView := m.help.ShortHelpView(helpKeys)
	return fmt.Sprintf("%s\n\n%s", m.pickList.View(), helpView)
}

func (m *Model) renderResult() string {
	helpView := m.help.ShortHelpView([]key.Binding{m.keys.quit})

	if m.err != nil {
		var b strings.Builder
		b.WriteString(styles.err.Render(fmt.Sprintf("Build failed: %v", m.err)))
		if errors.Is(m.err, shared.ErrAuth) {
			b.WriteString("\n" + styles.warn.Render("Run `crate auth login` to reauthorize."))
		}
		return fmt.Sprintf("%s\n\n%s", b.String(), helpView)
	}

	if m.result == nil {
		return styles.err.Render("No result available") + "\n\n" + helpView
	}

	if !m.result.Published {
		title := styles.warn.Render("Nothing published")
		info := fmt.Sprintf("\n%d tracks were selected from %d liked tracks.", len(m.result.Selected), len(m.result.Tracks))
		return fmt.Sprintf("%s\n%s\n\n%s", title, info, helpView)
	}

	title := styles.ok.Render("✓ Playlist published!")
	info := fmt.Sprintf("\nName: %s\nTracks: %d\nLink: %s", m.result.Playlist.Name, len(m.result.Selected), m.result.Playlist.URL)
	return fmt.Sprintf("%s\n%s\n\n%s", title, info, helpView)
}
