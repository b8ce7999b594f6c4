package models

import "strings"

const keyNamespace = "optin:rl"

// segmentEscaper percent-encodes the key delimiter and the escape character
// itself, so distinct identifiers always map to distinct segments.
var segmentEscaper = strings.NewReplacer("%", "%25", ":", "%3A")

// SanitizeKeySegment escapes delimiter characters in key segments so a
// user-controlled identifier containing ':' cannot address another bucket.
func SanitizeKeySegment(s string) string {
	return segmentEscaper.Replace(s)
}

// Key builds the counter key for a (scope, identifier) pair.
func Key(scope Scope, identifier string) string {
	return keyNamespace + ":" + string(scope) + ":" + SanitizeKeySegment(strings.ToLower(identifier))
}
