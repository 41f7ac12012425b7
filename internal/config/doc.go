// Package config provides configuration loading and validation for the
// Alpha speaker connector. It handles YAML-based configuration with
// per-section validation and duration helpers for the timing constants.
package config
