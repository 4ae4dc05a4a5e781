// Package config loads, normalizes, and validates reelsmith configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// REELSMITH_<PROVIDER>_API_KEY. The Config type centralizes every knob the
// daemon and CLI need, from provider profiles and concurrency ceilings to the
// ffmpeg output settings.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
