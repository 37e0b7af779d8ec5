package auth

import "encoding/json"

// DefaultScopes is granted to a credential created without an explicit
// scope list.
var DefaultScopes = []string{"video:create", "task:read", "task:cancel"}

// DecodeScopes parses a credential's stored scopes column (a JSON
// array of strings). A malformed or empty value decodes to an empty
// slice rather than erroring, since scopes only ever gate access.
func DecodeScopes(raw string) []string {
	var scopes []string
	if raw == "" {
		return scopes
	}
	if err := json.Unmarshal([]byte(raw), &scopes); err != nil {
		return nil
	}
	return scopes
}

// EncodeScopes serializes a scope list for storage.
func EncodeScopes(scopes []string) string {
	if scopes == nil {
		scopes = []string{}
	}
	b, _ := json.Marshal(scopes)
	return string(b)
}
