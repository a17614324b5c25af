package tasks

import (
	"fmt"

	"github.com/desertthunder/crate/internal/models"
)

// ProgressUpdate represents a progress event during a build.
//
// Used to send real-time updates to the CLI or UI layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Pipeline phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data for advanced UIs
}

// Phase enumerates the pipeline stages in execution order.
type Phase int

const (
	FetchLiked Phase = iota
	EnrichTracks
	RankTracks
	ReviewSelection
	PublishPlaylist
	Complete
)

func (p Phase) String() string {
	switch p {
	case FetchLiked:
		return "fetch_liked"
	case EnrichTracks:
		return "enrich"
	case RankTracks:
		return "rank"
	case ReviewSelection:
		return "review"
	case PublishPlaylist:
		return "publish"
	case Complete:
		return "complete"
	default:
		return ""
	}
}

func fetchingLikedUpdate(max int) ProgressUpdate {
	msg := "Fetching liked tracks from Spotify..."
	if max > 0 {
		msg = fmt.Sprintf("Fetching up to %d liked tracks from Spotify...", max)
	}
	return ProgressUpdate{Phase: FetchLiked, Step: 0, Total: 1, Message: msg}
}

func fetchedLikedUpdate(count, duplicates int) ProgressUpdate {
	msg := fmt.Sprintf("Found %d liked tracks", count)
	if duplicates > 0 {
		msg += fmt.Sprintf(" (%d duplicates dropped)", duplicates)
	}
	return ProgressUpdate{Phase: FetchLiked, Step: 1, Total: 1, Message: msg}
}

func enrichTrackUpdate(step, total int, tr *models.Track) ProgressUpdate {
	if tr == nil {
		return ProgressUpdate{
			Phase:   EnrichTracks,
			Step:    step,
			Total:   total,
			Message: "Enriching tracks...",
		}
	}
	return ProgressUpdate{
		Phase:   EnrichTracks,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] %s", step, total, tr),
		Data:    tr,
	}
}

func rankingUpdate(ranker string, attempt, count int) ProgressUpdate {
	msg := fmt.Sprintf("Ranking %d tracks with %s...", count, ranker)
	if attempt > 0 {
		msg = fmt.Sprintf("Retrying ranking with %s...", ranker)
	}
	return ProgressUpdate{Phase: RankTracks, Step: attempt, Total: maxRankAttempts, Message: msg}
}

func selectedUpdate(sel *models.Selection) ProgressUpdate {
	return ProgressUpdate{
		Phase:   RankTracks,
		Step:    maxRankAttempts,
		Total:   maxRankAttempts,
		Message: fmt.Sprintf("Selected %d tracks", len(sel.Picks)),
		Data:    sel,
	}
}

func reviewUpdate(res *BuildResult) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ReviewSelection,
		Step:    0,
		Total:   1,
		Message: "Waiting for review...",
		Data:    res,
	}
}

func publishingUpdate(name string, update bool) ProgressUpdate {
	verb := "Creating"
	if update {
		verb = "Updating"
	}
	return ProgressUpdate{
		Phase:   PublishPlaylist,
		Step:    0,
		Total:   1,
		Message: fmt.Sprintf("%s playlist %q on Spotify...", verb, name),
	}
}

func publishedUpdate(pl *models.Playlist) ProgressUpdate {
	return ProgressUpdate{
		Phase:   PublishPlaylist,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Playlist published: %s (ID: %s)", pl.Name, pl.ID),
		Data:    pl,
	}
}

func completeUpdate(res *BuildResult) ProgressUpdate {
	msg := fmt.Sprintf("Done: %d of %d liked tracks selected", len(res.Selected), len(res.Tracks))
	if !res.Published {
		msg += " (not published)"
	}
	return ProgressUpdate{Phase: Complete, Step: 1, Total: 1, Message: msg, Data: res}
}
