package oauth2

import "strings"

// Scopes is an ordered, duplicate-free scope collection parsed from the
// space-delimited scope parameter.
type Scopes []string

// SplitScopes parses a space-delimited scope string, dropping empty entries
// and duplicates while preserving first-seen order.
func SplitScopes(scope string) Scopes {
	fields := strings.Fields(scope)
	result := make(Scopes, 0, len(fields))
	seen := make(map[string]struct{}, len(fields))
	for _, s := range fields {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		result = append(result, s)
	}
	return result
}

// String joins the scopes back into the space-delimited wire format.
func (s Scopes) String() string {
	return strings.Join(s, " ")
}

// Contains reports whether scope is in the collection.
func (s Scopes) Contains(scope string) bool {
	for _, v := range s {
		if v == scope {
			return true
		}
	}
	return false
}

// ContainsAll reports whether every scope in other is in the collection.
func (s Scopes) ContainsAll(other Scopes) bool {
	for _, v := range other {
		if !s.Contains(v) {
			return false
		}
	}
	return true
}

// Intersect returns the scopes also present in allowed, preserving order.
func (s Scopes) Intersect(allowed Scopes) Scopes {
	result := make(Scopes, 0, len(s))
	for _, v := range s {
		if allowed.Contains(v) {
			result = append(result, v)
		}
	}
	return result
}

// Union merges other into the collection without duplicates.
func (s Scopes) Union(other Scopes) Scopes {
	result := make(Scopes, 0, len(s)+len(other))
	result = append(result, s...)
	for _, v := range other {
		if !result.Contains(v) {
			result = append(result, v)
		}
	}
	return result
}

// Difference returns the scopes not present in other.
func (s Scopes) Difference(other Scopes) Scopes {
	result := make(Scopes, 0, len(s))
	for _, v := range s {
		if !other.Contains(v) {
			result = append(result, v)
		}
	}
	return result
}

// HasOpenID reports whether the collection requests an OpenID Connect flow.
func (s Scopes) HasOpenID() bool {
	return s.Contains("openid")
}
