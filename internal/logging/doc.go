// Package logging builds the server's slog logger and the attributes shared
// across packages.
//
// LOG_LEVEL and LOG_FORMAT select the handler:
//
//	logger := logging.NewLogger(os.Stderr, level, logging.FormatJSON)
//
// Bearer tokens and emails never appear in log output. Use the fingerprint
// helpers instead:
//
//	logger.Info("token issued",
//	    logging.UserHash(identity.Email),
//	    logging.TokenHash(bearer))
package logging
