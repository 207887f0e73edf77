// Package storage defines the key/value persistence used by the OAuth
// subsystem and selects one of its variants at startup.
//
// Three variants implement Backend with identical semantics:
//
//   - memory: a map guarded by a mutex, for a single long-lived process
//   - file: one JSON document per key namespace, updated under a file lock,
//     surviving restarts on a single machine
//   - valkey: an external Valkey server, required whenever requests may land
//     on different instances with no shared memory
//
// Take is the atomic read-and-delete primitive used to redeem single-use
// values such as authorization transactions. The storagetest package holds
// the conformance suite every variant is tested against.
package storage
