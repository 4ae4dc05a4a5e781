// Package composition renders a timeline into a finished episode by driving
// ffmpeg through four stages: concatenation with transitions and Ken Burns
// moves, audio mixing, colour grading, and the final encode.
//
// Each stage is one ffmpeg child process whose -progress output feeds a
// weighted overall percentage. Stage failures are fatal and never retried;
// intermediates from completed stages stay on disk for diagnosis. AV1 masters
// are handed to drapto after ffmpeg muxes a mezzanine.
package composition
