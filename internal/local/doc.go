// Package local reads zone overrides from a folder on disk.
//
// Every file in the folder is one key of the local tree and every
// subdirectory a nested object. JSON, YAML and TOML files are parsed
// structurally; anything else uses a plain "key = value" line format.
// A FolderWatcher reports changes so that a client can refresh without
// waiting for its next period.
package local
