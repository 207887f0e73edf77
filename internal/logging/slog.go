package logging

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
)

// Attribute keys shared by the OAuth layer and the audit log.
const (
	KeyUserHash = "user_hash"
	KeyClientID = "client_id"
	KeyError    = "error"
)

// Err returns a slog attribute for an error.
// If err is nil, returns an empty Group attribute that will be omitted from output.
//
// Usage:
//
//	logger.Info("operation", logging.Err(err))  // Safe even if err is nil
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Group("")
	}
	return slog.String(KeyError, err.Error())
}

// ClientID returns a slog attribute for the OAuth client_id of a request.
func ClientID(clientID string) slog.Attr {
	return slog.String(KeyClientID, clientID)
}

// AnonymizeEmail returns a hashed representation of an email for logging purposes.
// This allows correlation of log entries without exposing PII.
func AnonymizeEmail(email string) string {
	if email == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(email))
	return "user:" + hex.EncodeToString(hash[:8])
}

// UserHash returns a slog attribute with the anonymized user email.
//
// Usage:
//
//	logger.Info("token issued", logging.UserHash(identity.Email))
func UserHash(email string) slog.Attr {
	return slog.String(KeyUserHash, AnonymizeEmail(email))
}
