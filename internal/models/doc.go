// Package models defines the domain entities that flow through a playlist build.
//
// The package contains two categories of types:
//
// 1. Pipeline values: built fresh on every run and discarded afterwards
//   - [Track] : a liked song plus whatever enrichment could be found for it
//   - [AudioFeatures] : numeric descriptors supplied by the streaming API
//   - [Insights] : themes, keywords and mood distilled from lyrics
//   - [Details] : credits, sub-genres and instrumentation recalled by a language model
//   - [Selection] : the ranked subset chosen for the playlist, with reasons
//   - [Playlist] : the named, ordered playlist written back to the account
//   - [Suggestion] : a song outside the library proposed by `crate discover`
//
// 2. Journal entities: rows written to sqlite for `crate history`
//   - [Run] : one invocation of the pipeline and its outcome
//   - [RunTrack] : a selected track at its playlist position
//
// Journal entities implement [Model]; the pipeline never reads them back.
package models
