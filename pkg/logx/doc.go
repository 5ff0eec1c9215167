// Package logx configures announcebot's structured logging.
//
// It wraps zerolog to keep console output short (timestamp + file:line),
// file output JSON, and an optional rate-limited chat sink for WARN+ records.
package logx
