package login

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"
)

const minTokenLen = 20

var tokenPattern = regexp.MustCompile(`^[A-Za-z0-9+/=]+$`)

// ExtractToken picks the access token out of a browser storage dump. Keys
// containing "token" or "auth" are checked in sorted order; a value is used
// when it is a JSON object with a token field or looks like base64.
func ExtractToken(storage map[string]string) (string, string, bool) {
	keys := make([]string, 0, len(storage))
	for k := range storage {
		lower := strings.ToLower(k)
		if strings.Contains(lower, "token") || strings.Contains(lower, "auth") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := strings.TrimSpace(storage[key])
		if len(value) <= minTokenLen {
			continue
		}
		if strings.HasPrefix(value, "{") {
			var obj map[string]any
			if err := json.Unmarshal([]byte(value), &obj); err == nil {
				for _, field := range []string{"token", "accessToken", "AccessToken", "access_token"} {
					if s, ok := obj[field].(string); ok && s != "" {
						return s, key, true
					}
				}
				continue
			}
		}
		if tokenPattern.MatchString(value) {
			return value, key, true
		}
	}
	return "", "", false
}

// ExtractUserLabel returns a display name stored alongside the token, if any.
func ExtractUserLabel(storage map[string]string) string {
	for _, key := range []string{"nickname", "nickName", "userName", "username"} {
		if v := strings.TrimSpace(storage[key]); v != "" {
			return v
		}
	}
	if raw, ok := storage["userInfo"]; ok {
		var info map[string]any
		if err := json.Unmarshal([]byte(raw), &info); err == nil {
			for _, key := range []string{"nickname", "nickName", "userName"} {
				if s, ok := info[key].(string); ok && s != "" {
					return s
				}
			}
		}
	}
	return ""
}

// loggedIn reports whether the browser has left the login page.
func loggedIn(location string) bool {
	return location != "" &&
		!strings.Contains(location, "/login") &&
		!strings.Contains(location, "returnUrl")
}
