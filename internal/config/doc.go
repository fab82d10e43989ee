// Package config loads alloclog's settings.
//
// # Configuration Discovery
//
// The Load function follows this resolution order:
//
//  1. If a path is explicitly provided, use it
//  2. Otherwise, use ~/.config/alloclog/config.toml (default)
//  3. If the config file doesn't exist, fall back to defaults
//  4. If the file exists but fields are missing or empty, use defaults
//  5. Apply NOMAD_ADDR, NOMAD_TOKEN, NOMAD_REGION and NOMAD_NAMESPACE
//
// # Default Values
//
//   - address: http://127.0.0.1:4646
//   - client_timeout: 1s (direct fetches from the node agent)
//   - server_timeout: 5s (fetches proxied through a server)
//   - poll_interval: 1s (log polling transport)
//   - stats_interval: 2s (allocation and resource usage refresh)
//   - max_output_length: 50000 characters per half of the log buffer
//   - log_file: ~/.local/state/alloclog/alloclog.log
//   - log_level: info
//
// # TOML Format
//
//	address = "https://nomad.example:4646"
//	token = "..."
//	namespace = "prod"
//	client_timeout = "1s"
//	polling = false
//
// Durations use Go syntax and must be positive. Tilde expansion is applied
// to log_file.
//
// # Error Handling
//
// Missing config files are NOT an error. Unreadable files, invalid TOML and
// invalid values are returned wrapped with the step that failed
// ("parse config: poll_interval: ...").
package config
