// Package ui implements the `crate build --review` terminal interface using bubbletea's Elm architecture.
//
// The review flow has three views:
//  1. [ProgressView] : spinner and phase messages while tracks are fetched, enriched and ranked
//  2. [ReviewView] : the ranked selection with per-track reasons, accepted with y or discarded with n
//  3. [ResultView] : the published playlist link, or why nothing was published
//
// The pipeline runs in its own goroutine. Progress updates flow through a buffered channel and the
// ranked result is handed to the model through the build's Confirm callback, which blocks until the
// user decides or the context is cancelled.
//
// Keyboard navigation uses vim-style bindings (j/k, y/n, q) with contextual help displayed via charmbracelet/bubbles/help.
package ui
