// Package logging provides structured JSON logging for CodeWeaver.
//
// When debug mode is enabled, comprehensive logs are written to
// ~/.codeweaver/logs/server.log, rotated by size.
package logging
