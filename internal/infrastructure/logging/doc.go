// Package logging provides structured logging for Inspection Core.
//
// It wraps log/slog so every component logs with the same default fields
// (service, version) and the same level filtering.
//
// Configuration:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Never log session tokens, signing secrets, or passwords. Attributes named
// token, secret, password or authorization are redacted by the handler as a
// last line of protection.
package logging
