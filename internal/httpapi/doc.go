// Package httpapi exposes the daemon over HTTP with a chi router.
//
// Routes live under /api. Assembly is asynchronous: POST
// /api/episodes/{id}/assemble returns 202 and progress is read back from GET
// /api/episodes/{id}. Batches can be started, inspected, and cancelled
// directly for tooling that generates clips without assembling an episode.
//
// Every request carries an X-Request-ID (generated when the caller omits it)
// that is threaded into the request context for log correlation. When an API
// token is configured every route except /api/health requires it as a bearer
// token.
package httpapi
