// Package preflight provides readiness checks for the filesystem paths,
// external binaries, and remote services reelsmith depends on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll at startup and refuses to serve when a required
//     directory is unusable, rather than failing hours into a render.
//   - The CLI "reelsmith doctor" command prints every result, including
//     optional binaries and provider credentials.
//
// Remote checks are skipped for collaborators that are not configured.
package preflight
