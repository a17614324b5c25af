// Package tasks implements the playlist build pipeline.
//
// # Pipeline
//
// [PlaylistBuilder.Run] executes one linear sequence per invocation:
//
//  1. [PlaylistBuilder.FetchLikedTracks] : page through the user's liked tracks, de-duplicated by id
//  2. [PlaylistBuilder.EnrichAll] : lyrics, audio features, artist genres, album label, Last.fm tags,
//     optional lyrical insights and optional model-recalled [models.Details] for each track
//  3. [PlaylistBuilder.RankAndSelect] : order and select tracks with a [Ranker]
//  4. [PlaylistBuilder.Publish] : create the playlist, or replace an existing one of the same name
//
// Enrichment degrades rather than drops: a lookup that finds nothing leaves the field empty.
// Authentication failures halt the run wherever they occur.
//
// # Rankers
//
// [ModelRanker] sends a compact digest of the enriched tracks to a language model and parses the
// returned ids. [HeuristicRanker] needs no model and scores tracks by similarity to the rest of the set.
//
// # Discovery
//
// [Discoverer] looks outside the library instead of ranking it. Last.fm neighbors of recent liked tracks
// and songs proposed by a language model are merged, and anything already liked is dropped.
//
// # Progress Reporting
//
// Operations take an optional channel of [ProgressUpdate]. Sends use select with default so a slow
// consumer never blocks the pipeline.
//
// # Journal
//
// When a [Journal] is configured every run is recorded when it starts and again when it finishes,
// including failures. Nothing in the pipeline reads it back.
package tasks
