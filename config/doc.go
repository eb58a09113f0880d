// Package config loads the settings that govern model resolution and inference.
//
// Configuration is read once at startup and then treated as immutable. Values
// come from defaults, an optional YAML file, Hugging Face and proxy environment
// variables, IMGEMBED_* variables and finally functional options (usually CLI
// flags). Config.Policy turns the result into the core.Policy value that the
// resolver consumes; nothing downstream reads the environment again.
package config
