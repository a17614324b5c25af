package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/tasks"
)

var _ list.DefaultItem = pickItem{}

// pickItem wraps a selected [models.Track] and its ranking reason to implement [list.DefaultItem].
type pickItem struct {
	position int
	track    models.Track
	reason   string
}

func (i pickItem) FilterValue() string { return i.track.Title + " " + i.track.Artist() }
func (i pickItem) Title() string       { return fmt.Sprintf("%d. %s", i.position, i.track.Title) }
func (i pickItem) Description() string {
	parts := []string{i.track.Artist()}
	if i.track.Album != "" {
		parts = append(parts, i.track.Album)
	}
	if i.reason != "" {
		parts = append(parts, i.reason)
	}
	return strings.Join(parts, " • ")
}

// pickItems builds list items for res in selection order.
func pickItems(res *tasks.BuildResult) []list.Item {
	reasons := make(map[string]string, len(res.Selection.Picks))
	for _, p := range res.Selection.Picks {
		reasons[p.TrackID] = p.Reason
	}

	items := make([]list.Item, len(res.Selected))
	for i, t := range res.Selected {
		items[i] = pickItem{position: i + 1, track: t, reason: reasons[t.ID]}
	}
	return items
}
