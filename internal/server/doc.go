// Package server runs the short-lived HTTP server behind `crate auth login`.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support. [BasicRouter] uses
// [http.ServeMux] internally with method filtering. [Middleware] runs in the order it was added (the first
// added is outermost); [RequestLogger] and [Recoverer] are provided.
//
// # OAuth Callback Handler
//
// [OAuthHandler] implements the authorization code callback. It validates the state parameter (CSRF
// protection), exchanges the code for tokens and sends the result through a channel. Only the first
// callback is processed. Failures are reported as authentication errors from the shared package.
//
// The CLI starts the server on the configured host and port, opens the authorization URL in a browser
// and shuts the server down once a result arrives or two minutes pass.
package server
