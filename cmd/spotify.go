package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/desertthunder/crate/internal/formatter"
	"github.com/desertthunder/crate/internal/shared"
	"github.com/desertthunder/crate/internal/tasks"
	"github.com/urfave/cli/v3"
)

// Liked lists liked tracks after de-duplication.
func (r *Runner) Liked(ctx context.Context, cmd *cli.Command) error {
	limit := int(cmd.Int("limit"))
	if limit < 0 {
		return fmt.Errorf("%w: --limit must not be negative", shared.ErrInvalidArgument)
	}

	music, err := r.spotify(ctx)
	if err != nil {
		return err
	}

	r.logger.Infof("listing liked tracks with limit %v", limit)

	builder := tasks.NewPlaylistBuilder(tasks.Deps{Music: music, Logger: r.logger})
	tracks, dupes, err := builder.FetchLikedTracks(ctx, limit)
	if err != nil {
		return err
	}
	r.persistToken()

	if dupes > 0 {
		r.logger.Warn("dropped duplicate liked tracks", "count", dupes)
	}

	if cmd.Bool("json") {
		return r.writeJSON(tracks, cmd.Bool("pretty"))
	}

	r.writePlain("Found %d liked tracks:\n\n", len(tracks))
	return r.writeBytes(formatter.TracksToText(tracks))
}

// Enrich fetches a single track and runs every enrichment lookup on it.
func (r *Runner) Enrich(ctx context.Context, cmd *cli.Command) error {
	id := strings.TrimSpace(cmd.String("id"))
	if id == "" {
		return fmt.Errorf("%w: --id is required", shared.ErrMissingArgument)
	}

	builder, err := r.newBuilder(ctx, builderOpts{
		ranker:   "heuristic",
		insights: cmd.Bool("insights"),
		details:  cmd.Bool("details"),
	})
	if err != nil {
		return err
	}

	track, err := r.music.Track(ctx, id)
	if err != nil {
		return err
	}

	enriched, err := builder.Enrich(ctx, *track)
	if err != nil {
		return err
	}
	r.persistToken()

	if cmd.Bool("json") {
		if !cmd.Bool("lyrics") {
			enriched.Lyrics = ""
		}
		return r.writeJSON(enriched, cmd.Bool("pretty"))
	}

	if err := r.writeBytes(formatter.TrackToText(enriched)); err != nil {
		return err
	}
	if cmd.Bool("lyrics") && enriched.Lyrics != "" {
		r.writePlainln("%s", enriched.Lyrics)
	}
	return nil
}
