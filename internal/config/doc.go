// Package config loads and saves the wsgate YAML configuration file.
//
// The default location follows platform conventions (see GetConfigDir).
// A missing file is not an error: Load returns Default(), and any field
// absent from the file keeps its default value.
//
// # File Format
//
//	version: 1
//	server:
//	    network: tcp
//	    address: :8080
//	    path: /ws
//	    shutdown_wait: 10s
//	connection:
//	    max_queue_size: 1024
//	    write_timeout: 5s
//	    shutdown_timeout: 5s
//	    close_timeout: 5s
//	discovery:
//	    advertise: true
//	    instance: lab-gateway
//	log:
//	    level: info
//	    format: console
//
// Save writes to a temporary file and renames it over the target, so a
// crash never leaves a truncated configuration behind.
package config
