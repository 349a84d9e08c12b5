// Package logging wires log/slog for the daemon and CLI.
//
// Loggers are constructed from config (level, format, output paths) and fan
// out to stdout plus the configured log file. The console handler renders a
// compact colored line for interactive use; the JSON handler emits one object
// per record for ingestion. Attr helpers and the Field* constants keep key
// names consistent across components.
package logging
