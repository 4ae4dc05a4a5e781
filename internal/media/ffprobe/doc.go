// Package ffprobe inspects rendered episodes and source clips.
//
// Inspect runs ffprobe with JSON output; Result exposes the stream and
// container facts the composition engine verifies after a render.
package ffprobe
