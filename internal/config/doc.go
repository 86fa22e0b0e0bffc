// Package config defines the settings used by the forgedist binaries and
// provides helpers to load, validate and save them in YAML format.
//
// The Config type holds the staging/production store locations, the allowed
// channel set, signing backend parameters, and retry/timeout tuning.
package config
