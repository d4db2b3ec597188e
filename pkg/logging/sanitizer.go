// Package logging scrubs credentials from strings before they reach the log.
package logging

import (
	"net/url"
	"regexp"
)

// RedactedText replaces any scrubbed value.
const RedactedText = "[REDACTED]"

var (
	passwordPattern    = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)
	bearerPattern      = regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9\-_]+\.[A-Za-z0-9\-_]+\.[A-Za-z0-9\-_]*`)
	userinfoPattern    = regexp.MustCompile(`://[^/\s:@]+(:[^/\s@]*)?@`)
	githubTokenPattern = regexp.MustCompile(`\b(gh[pousr]_[A-Za-z0-9]{20,}|github_pat_[A-Za-z0-9_]{20,})\b`)
)

// SanitizeConnectionString hides the password of a database URL or DSN.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}
	s := passwordPattern.ReplaceAllString(connStr, "${1}="+RedactedText)
	return userinfoPattern.ReplaceAllString(s, "://"+RedactedText+"@")
}

// SanitizeCloneURL drops the userinfo of a git remote, which carries the access token.
func SanitizeCloneURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.User == nil {
		return SanitizeString(rawURL)
	}
	u.User = nil
	return u.String()
}

// SanitizeString removes passwords, bearer tokens, URL credentials and GitHub tokens.
func SanitizeString(s string) string {
	s = passwordPattern.ReplaceAllString(s, "${1}="+RedactedText)
	s = bearerPattern.ReplaceAllString(s, "Bearer "+RedactedText)
	s = userinfoPattern.ReplaceAllString(s, "://"+RedactedText+"@")
	return githubTokenPattern.ReplaceAllString(s, RedactedText)
}

// SanitizeError is SanitizeString over err.Error(). Nil gives "".
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeString(err.Error())
}
