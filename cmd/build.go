package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/desertthunder/crate/internal/formatter"
	"github.com/desertthunder/crate/internal/shared"
	"github.com/desertthunder/crate/internal/tasks"
	"github.com/desertthunder/crate/internal/ui"
	"github.com/urfave/cli/v3"
)

const reviewLogPath = "./tmp/crate-review.log"

// Build runs the pipeline: fetch liked tracks, enrich, rank and publish.
//
// Flags override the [builder] section of the config.
func (r *Runner) Build(ctx context.Context, cmd *cli.Command) error {
	opts, err := r.buildOptions(cmd)
	if err != nil {
		return err
	}

	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	review := cmd.Bool("review") && !opts.DryRun
	if review {
		// The TUI owns the terminal, so logs go to a file.
		fileLogger, err := shared.NewFileLogger(reviewLogPath)
		if err != nil {
			return fmt.Errorf("failed to create file logger: %w", err)
		}
		prev := r.logger
		r.SetLogger(fileLogger)
		defer r.SetLogger(prev)
	}

	builder, err := r.newBuilder(ctx, builderOpts{
		ranker:   firstNonEmpty(cmd.String("ranker"), r.config.Builder.Ranker),
		insights: cmd.Bool("insights"),
		details:  cmd.Bool("details"),
		journal:  !cmd.Bool("no-journal"),
	})
	if err != nil {
		return err
	}

	var res *tasks.BuildResult
	if review {
		res, err = r.Review(ctx, builder, opts)
	} else {
		res, err = r.runBuild(ctx, builder, opts)
	}
	r.persistToken()
	if err != nil {
		return err
	}

	data, err := formatter.RenderSelection(res, format)
	if err != nil {
		return err
	}

	if path := cmd.String("output"); path != "" {
		if err := formatter.WriteFile(path, data); err != nil {
			return err
		}
		r.logger.Info("selection written", "file", path, "format", format)
	} else if err := r.writeBytes(data); err != nil {
		return err
	}

	if format != formatter.FormatText {
		return nil
	}

	switch {
	case res.Published:
		r.writePlainln("%s", ui.OK(fmt.Sprintf("✓ Published '%s' with %d tracks", res.Playlist.Name, len(res.Selected))))
		r.writePlain("%s\n", res.Playlist.URL)
	case opts.DryRun:
		r.writePlainln("%s", ui.Warn("Dry run: nothing was published"))
	default:
		r.writePlainln("%s", ui.Warn("Selection discarded: nothing was published"))
	}
	return nil
}

// buildOptions merges flags over the [builder] config section.
func (r *Runner) buildOptions(cmd *cli.Command) (tasks.BuildOptions, error) {
	defaults := r.config.Builder
	opts := tasks.BuildOptions{
		Name:     firstNonEmpty(cmd.String("name"), defaults.PlaylistName),
		Size:     defaults.Size,
		MaxLiked: defaults.MaxLiked,
		Prompt:   firstNonEmpty(cmd.String("prompt"), defaults.Prompt),
		Public:   defaults.Public || cmd.Bool("public"),
		Update:   cmd.Bool("update"),
		DryRun:   cmd.Bool("dry-run"),
	}
	if cmd.IsSet("size") {
		opts.Size = int(cmd.Int("size"))
	}
	if cmd.IsSet("max-liked") {
		opts.MaxLiked = int(cmd.Int("max-liked"))
	}

	if strings.TrimSpace(opts.Name) == "" {
		return opts, fmt.Errorf("%w: --name or builder.playlist_name is required", shared.ErrMissingArgument)
	}
	if opts.Size <= 0 {
		return opts, fmt.Errorf("%w: --size must be positive", shared.ErrInvalidArgument)
	}
	if opts.MaxLiked < 0 {
		return opts, fmt.Errorf("%w: --max-liked must not be negative", shared.ErrInvalidArgument)
	}
	return opts, nil
}

// runBuild runs the pipeline and logs progress updates as they arrive.
func (r *Runner) runBuild(ctx context.Context, builder *tasks.PlaylistBuilder, opts tasks.BuildOptions) (*tasks.BuildResult, error) {
	progress := make(chan tasks.ProgressUpdate, 50)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for u := range progress {
			if u.Phase == tasks.EnrichTracks && u.Step%10 != 0 && u.Step != u.Total {
				r.logger.Debug(u.Message, "phase", u.Phase, "step", u.Step, "total", u.Total)
				continue
			}
			r.logger.Info(u.Message, "phase", u.Phase)
		}
	}()

	res, err := builder.Run(ctx, opts, progress)
	close(progress)
	<-done
	return res, err
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
