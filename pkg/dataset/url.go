package dataset

import "regexp"

// urlPattern matches http(s)/ftp(s) URLs whose host is a domain name,
// localhost or a dotted-quad IPv4 address, with optional port and path.
var urlPattern = regexp.MustCompile(`(?i)^(?:http|ftp)s?://` +
	`(?:(?:[A-Z0-9](?:[A-Z0-9-]{0,61}[A-Z0-9])?\.)+(?:[A-Z]{2,6}\.?|[A-Z0-9-]{2,}\.?)|` +
	`localhost|` +
	`\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3})` +
	`(?::\d+)?` +
	`(?:/?|[/?]\S+)$`)

// IsURL reports whether s has the shape of an external resource URL.
func IsURL(s string) bool {
	return urlPattern.MatchString(s)
}
