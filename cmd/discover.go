package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/crate/internal/formatter"
	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/shared"
	"github.com/desertthunder/crate/internal/tasks"
	"github.com/desertthunder/crate/internal/ui"
	"github.com/urfave/cli/v3"
)

// Discover proposes tracks outside the liked library and optionally publishes the ones found on Spotify.
func (r *Runner) Discover(ctx context.Context, cmd *cli.Command) error {
	playlist := strings.TrimSpace(cmd.String("playlist"))
	opts := tasks.DiscoverOptions{
		Sources: cmd.StringSlice("source"),
		Seeds:   int(cmd.Int("seeds")),
		PerSeed: int(cmd.Int("per-seed")),
		Limit:   int(cmd.Int("limit")),
		Prompt:  cmd.String("prompt"),
		Resolve: cmd.Bool("resolve") || playlist != "",
	}
	maxLiked := int(cmd.Int("max-liked"))
	if opts.Seeds < 0 || opts.PerSeed < 0 || opts.Limit < 0 || maxLiked < 0 {
		return fmt.Errorf("%w: --limit, --seeds, --per-seed and --max-liked must not be negative", shared.ErrInvalidArgument)
	}

	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	builder, err := r.newBuilder(ctx, builderOpts{ranker: "heuristic"})
	if err != nil {
		return err
	}

	liked, dupes, err := builder.FetchLikedTracks(ctx, maxLiked)
	if err != nil {
		return err
	}
	if len(liked) == 0 {
		return &shared.NotFoundError{Service: "spotify", What: "liked tracks"}
	}
	r.logger.Info("fetched liked tracks", "count", len(liked), "duplicates", dupes)

	if cmd.Bool("enrich") {
		if liked, err = builder.EnrichAll(ctx, liked, nil); err != nil {
			return err
		}
	}

	model, err := r.chatModel()
	if err != nil {
		return err
	}
	discoverer := tasks.NewDiscoverer(tasks.DiscoverDeps{
		Music:  r.music,
		Tags:   r.tagService(),
		Model:  model,
		Logger: r.logger,
	})

	res, err := discoverer.Discover(ctx, liked, opts)
	r.persistToken()
	if err != nil {
		return err
	}

	data, err := formatter.RenderSuggestions(res, format)
	if err != nil {
		return err
	}
	if path := cmd.String("output"); path != "" {
		if err := formatter.WriteFile(path, data); err != nil {
			return err
		}
		r.logger.Info("suggestions written", "file", path, "format", format)
	} else if err := r.writeBytes(data); err != nil {
		return err
	}

	if playlist == "" {
		return nil
	}

	ids := res.Resolved()
	if len(ids) == 0 {
		return &shared.NotFoundError{Service: "spotify", What: "suggested tracks"}
	}
	published, err := builder.Publish(ctx, models.Playlist{
		Name:        playlist,
		Description: tasks.Description(firstNonEmpty(opts.Prompt, "New finds beyond your liked tracks."), time.Now()),
		Public:      cmd.Bool("public"),
		TrackIDs:    ids,
	}, cmd.Bool("update"))
	r.persistToken()
	if err != nil {
		return err
	}

	if format == formatter.FormatText {
		r.writePlainln("%s", ui.OK(fmt.Sprintf("✓ Published '%s' with %d tracks", published.Name, len(ids))))
		r.writePlain("%s\n", published.URL)
	}
	return nil
}
