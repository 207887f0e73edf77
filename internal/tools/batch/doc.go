// Package batch runs one tool operation over several IDs, such as deleting
// a list of calendar events.
//
// Parameters may be a single string or an array of strings. Items run
// concurrently with a bounded limit, and one failing item is reported in
// its Result without aborting the rest.
package batch
