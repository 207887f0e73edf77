// Package codec seals OAuth token payloads for storage at rest.
//
// Values are encrypted with AES-256-GCM under a unique random nonce and
// encoded as base64(nonce || ciphertext || tag). Open verifies the tag and
// fails with ErrIntegrity on any mismatch, so a tampered or corrupted record
// is reported as unreadable instead of being returned.
//
// Without a key the codec still works so local development is not blocked,
// but it logs a standing warning that token storage is unencrypted.
package codec
