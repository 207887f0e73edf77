package google

// DefaultOAuthScopes are the Google OAuth scopes requested when an agent
// client does not ask for specific ones.
//
// The scopes provide access to:
//   - OpenID Connect identity (subject and email in the id_token)
//   - Google Calendar: full access
var DefaultOAuthScopes = []string{
	// OpenID Connect scopes (required for user info)
	"openid",
	"email",
	"profile",

	// Google Calendar scope
	CalendarScope,
}

// Calendar scopes
const (
	CalendarScope         = "https://www.googleapis.com/auth/calendar"
	CalendarReadonlyScope = "https://www.googleapis.com/auth/calendar.readonly"
	CalendarEventsScope   = "https://www.googleapis.com/auth/calendar.events"
)

// SupportedOAuthScopes are every scope an agent client may request.
var SupportedOAuthScopes = []string{
	"openid",
	"email",
	"profile",
	CalendarScope,
	CalendarReadonlyScope,
	CalendarEventsScope,
}
