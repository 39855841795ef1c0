// Package server receives the OAuth redirect that completes an interactive Spotify login.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
// [Logging] is the only middleware crowdspot installs.
//
// # OAuth Callback Handler
//
// [OAuthHandler] validates the state parameter against the login in progress and hands the
// authorization code to a [CodeReceiver], normally the session manager.
// It only processes one callback; later requests are rejected.
//
// # Callback Server
//
// [CallbackServer] serves the handler on the redirect address until one callback is delivered
// or its context ends. [ListenForCode] runs the whole exchange in one call.
package server
