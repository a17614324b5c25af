// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Create the config file or initialize the journal database",
		Commands: []*cli.Command{
			{
				Name:   "config",
				Usage:  "Write an example config.toml",
				Action: r.SetupConfig,
			},
			{
				Name:  "database",
				Usage: "Create the journal database and run migrations",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "rollback",
						Usage: "Roll back the most recent migration instead",
					},
				},
				Action: r.SetupDatabase,
			},
		},
	}
}

func authCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Spotify authentication",
		Commands: []*cli.Command{
			{
				Name:   "login",
				Usage:  "Authorize with Spotify using OAuth2 and save tokens to the config",
				Action: r.AuthLogin,
			},
			{
				Name:  "status",
				Usage: "Show the authenticated Spotify user",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				},
				Action: r.AuthStatus,
			},
		},
	}
}

func likedCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "liked",
		Usage: "List liked tracks, newest first",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Maximum number of tracks to fetch (0 for all)",
				Value:   50,
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output raw JSON",
			},
			&cli.BoolFlag{
				Name:  "pretty",
				Usage: "Pretty-print JSON output",
			},
		},
		Action: r.Liked,
	}
}

func enrichCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "enrich",
		Usage: "Fetch one track and show every enrichment signal found for it",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "id",
				Usage:    "Spotify track ID",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "insights",
				Usage: "Analyze lyrics with the language model",
			},
			&cli.BoolFlag{
				Name:  "details",
				Usage: "Ask the language model for credits, sub-genres and instrumentation",
			},
			&cli.BoolFlag{
				Name:  "lyrics",
				Usage: "Print the full lyrics",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output raw JSON",
			},
			&cli.BoolFlag{
				Name:  "pretty",
				Usage: "Pretty-print JSON output",
				Value: true,
			},
		},
		Action: r.Enrich,
	}
}

func buildCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "build",
		Usage: "Rank liked tracks and publish a playlist",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "name",
				Usage: "Playlist name (default from [builder].playlist_name)",
			},
			&cli.IntFlag{
				Name:  "size",
				Usage: "Number of tracks to select (default from [builder].size)",
			},
			&cli.IntFlag{
				Name:  "max-liked",
				Usage: "Maximum liked tracks to consider, 0 for all (default from [builder].max_liked)",
			},
			&cli.StringFlag{
				Name:  "ranker",
				Usage: "Ranking strategy: model or heuristic (default from [builder].ranker)",
			},
			&cli.StringFlag{
				Name:    "prompt",
				Aliases: []string{"p"},
				Usage:   "Brief describing the playlist you want",
			},
			&cli.BoolFlag{
				Name:  "update",
				Usage: "Replace the tracks of an existing playlist with the same name",
			},
			&cli.BoolFlag{
				Name:  "public",
				Usage: "Make the playlist public",
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Rank and print the selection without publishing",
			},
			&cli.BoolFlag{
				Name:  "review",
				Usage: "Review the selection in an interactive TUI before publishing",
			},
			&cli.BoolFlag{
				Name:  "insights",
				Usage: "Analyze lyrics with the language model before ranking",
			},
			&cli.BoolFlag{
				Name:  "details",
				Usage: "Ask the language model for credits and sub-genres before ranking",
			},
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Usage:   "Output format: text, markdown, csv or json",
				Value:   "text",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Write the selection to a file instead of stdout",
			},
			&cli.BoolFlag{
				Name:  "no-journal",
				Usage: "Do not record this run in the journal",
			},
		},
		Action: r.Build,
	}
}

func discoverCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "discover",
		Usage: "Find new tracks similar to your liked tracks with Last.fm and the language model",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "source",
				Usage: "Discovery source: lastfm or model, repeatable (default every configured source)",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Suggestions to keep per source (0 for all)",
				Value:   10,
			},
			&cli.IntFlag{
				Name:  "seeds",
				Usage: "Most recent liked tracks to ask Last.fm about",
				Value: 5,
			},
			&cli.IntFlag{
				Name:  "per-seed",
				Usage: "Similar tracks requested per seed",
				Value: 10,
			},
			&cli.IntFlag{
				Name:  "max-liked",
				Usage: "Liked tracks to fetch for the taste profile (0 for all)",
				Value: 50,
			},
			&cli.StringFlag{
				Name:    "prompt",
				Aliases: []string{"p"},
				Usage:   "Brief for the language model",
			},
			&cli.BoolFlag{
				Name:  "enrich",
				Usage: "Enrich liked tracks before building the taste profile",
			},
			&cli.BoolFlag{
				Name:  "resolve",
				Usage: "Look suggestions up on Spotify",
			},
			&cli.StringFlag{
				Name:  "playlist",
				Usage: "Publish resolved suggestions to a playlist with this name",
			},
			&cli.BoolFlag{
				Name:  "update",
				Usage: "Replace the tracks of an existing playlist with the same name",
			},
			&cli.BoolFlag{
				Name:  "public",
				Usage: "Make the playlist public",
			},
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Usage:   "Output format: text, markdown, csv or json",
				Value:   "text",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Write the suggestions to a file instead of stdout",
			},
		},
		Action: r.Discover,
	}
}

func historyCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "List journaled builds",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Maximum number of runs to list (0 for all)",
				Value:   20,
			},
			&cli.StringFlag{
				Name:  "id",
				Usage: "Show one run and its tracks (a unique prefix is enough)",
			},
			&cli.IntFlag{
				Name:  "prune",
				Usage: "Delete all but the N most recent runs",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output raw JSON",
			},
			&cli.BoolFlag{
				Name:  "pretty",
				Usage: "Pretty-print JSON output",
			},
		},
		Action: r.History,
	}
}
