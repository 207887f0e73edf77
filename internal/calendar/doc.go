// Package calendar is a thin client for the Google Calendar v3 API.
//
// A Client acts on behalf of exactly one caller: NewClient resolves the
// caller's Google token through a google.TokenProvider and fails before any
// API call when the caller is not authorized. Clients are created per tool
// invocation.
//
// Example usage:
//
//	client, err := calendar.NewClient(ctx, tokens)
//	if err != nil {
//	    return err
//	}
//	events, err := client.ListEvents(ctx, "primary", calendar.EventQuery{
//	    TimeMin: time.Now(),
//	    TimeMax: time.Now().AddDate(0, 0, 7),
//	})
package calendar
