/*
Package log provides structured logging for pushgate using zerolog.

The package wraps zerolog behind a global logger initialized once via Init.
Components obtain child loggers with WithComponent, and request-scoped logs
attach tenant context with WithApp. Output is JSON in production and a
human-readable console format in development.
*/
package log
