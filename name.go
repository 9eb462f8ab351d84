package pulse

import "strings"

// NameSeparator joins name fragments into the dotted form.
const NameSeparator = "."

// Name is a hierarchical metric name: an ordered sequence of fragments.
// Equality is structural over the full dotted form.
type Name []string

// ParseName splits a dotted name into its fragments.
// Empty fragments are discarded, so "a..b" and "a.b" parse identically.
func ParseName(s string) Name {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, NameSeparator)
	out := make(Name, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Append returns a new Name extended with the given fragment.
// The fragment may itself be dotted; it is parsed before appending, which
// makes prefix composition associative.
func (n Name) Append(fragment string) Name {
	tail := ParseName(fragment)
	out := make(Name, 0, len(n)+len(tail))
	out = append(out, n...)
	out = append(out, tail...)
	return out
}

// Join renders the name with the given separator.
func (n Name) Join(sep string) string { return strings.Join(n, sep) }

// String renders the dotted form.
func (n Name) String() string { return n.Join(NameSeparator) }

// Labels is an unordered key to value mapping attached to a write.
// Keys are unique; values are strings.
type Labels map[string]string

// mergeLabels overlays call-site labels on top of scope-inherited labels.
// Call-site keys dominate. Either argument may be nil.
func mergeLabels(scope, call Labels) Labels {
	if len(scope) == 0 {
		return call
	}
	if len(call) == 0 {
		return scope
	}
	out := make(Labels, len(scope)+len(call))
	for k, v := range scope {
		out[k] = v
	}
	for k, v := range call {
		out[k] = v
	}
	return out
}
