// Package config holds the settings of a cluster config client and the
// logic that produces default settings from an optional configuration
// file next to the local settings folder.
package config
