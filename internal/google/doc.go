// Package google holds the Google-specific pieces shared by the OAuth layer
// and the calendar client: the OAuth scopes and the TokenProvider abstraction
// through which tool handlers obtain the caller's upstream token.
package google
