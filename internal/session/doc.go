// Package session owns the authenticated connection to the Web API.
//
// A [CredentialStore] persists the user's OAuth token as JSON at a well-known path.
// Its presence is what "connected" means to the host, and a [Manager] turns it
// into a live [Session] lazily, on the first request that needs a bearer token.
//
// Session creation is a critical section shared by every concurrent caller through
// a singleflight group. When no credential is stored the manager either fails with
// [shared.ErrAuthRequired] or, when an authorize hook is configured, starts the
// interactive authorization-code flow and waits for [Manager.SubmitAuthorizationCode]
// without holding any lock.
//
// A request that comes back 401 invalidates the session; [Manager.Do] recreates it
// once, forcing a refresh of the stored token, and replays the request.
package session
