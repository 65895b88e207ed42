// Package cli implements the command-line interface for objstore.
//
// The cli package provides the Cobra-based CLI for looking into a storage
// directory created by pkg/storage: printing its path and first-start state,
// listing and inspecting stored objects, clearing the first-start marker and
// resetting all data. Settings come from an optional YAML config file
// overridden by flags.
package cli
