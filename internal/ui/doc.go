// Package ui renders terminal output for the wsgate CLI.
//
// Components follow a "print and move on" pattern: a Header banner when a
// command starts, a Transcript line per message for "wsgate dial", and a
// Result box when a command ends. Lipgloss handles styling; x/term detects
// whether stdout is a terminal so that piped output stays plain.
//
// Logging is controlled separately via WSGATE_LOG_LEVEL. When unset, zap is
// silent and only the curated UI output is shown.
package ui
