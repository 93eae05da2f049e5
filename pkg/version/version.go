// Package version implements the dotted-numeric version grammar and the
// constraint expressions package manifests use to declare compatibility.
package version

import (
	"strconv"
	"strings"
)

// Version is a dot-separated sequence of non-negative integers of arbitrary
// length. Shorter versions compare as if right-padded with zeros, so "1.2"
// and "1.2.0" are equal.
type Version []int

// Parse splits a dotted version string into its integer components.
// Malformed components parse as 0. This leniency is deliberate and kept:
// manifests are third-party content and a bad digit must degrade, not fail.
func Parse(s string) Version {
	parts := strings.Split(strings.TrimSpace(s), ".")
	v := make(Version, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			n = 0
		}
		v[i] = n
	}
	return v
}

// Compare returns -1, 0 or 1 for v < other, v == other, v > other under
// standard dotted-version ordering. Comparison is over zero-padded integer
// tuples, never string ordering.
func (v Version) Compare(other Version) int {
	n := len(v)
	if len(other) > n {
		n = len(other)
	}
	for i := 0; i < n; i++ {
		a, b := 0, 0
		if i < len(v) {
			a = v[i]
		}
		if i < len(other) {
			b = other[i]
		}
		if a < b {
			return -1
		}
		if a > b {
			return 1
		}
	}
	return 0
}

// component returns the i-th component, zero-padded.
func (v Version) component(i int) int {
	if i < len(v) {
		return v[i]
	}
	return 0
}

// String renders the version back in dotted form.
func (v Version) String() string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ".")
}

// operators ordered so that two-character operators match before their
// one-character prefixes.
var operators = []string{">=", "<=", "==", ">", "<", "=", "^"}

// IsCompatible reports whether the concrete version actual satisfies the
// constraint expression requirement.
//
// An empty requirement is always compatible. Otherwise the requirement is
// <op><version> with op one of >=, >, <=, <, ==, =, ^. A requirement with no
// recognized operator prefix degrades to exact string equality against
// actual.
func IsCompatible(requirement, actual string) bool {
	requirement = strings.TrimSpace(requirement)
	if requirement == "" {
		return true
	}

	for _, op := range operators {
		if strings.HasPrefix(requirement, op) {
			required := Parse(requirement[len(op):])
			return evaluate(op, required, Parse(actual))
		}
	}

	// No operator: exact string match.
	return requirement == actual
}

func evaluate(op string, required, actual Version) bool {
	cmp := actual.Compare(required)
	switch op {
	case ">=":
		return cmp >= 0
	case ">":
		return cmp > 0
	case "<=":
		return cmp <= 0
	case "<":
		return cmp < 0
	case "==", "=":
		return cmp == 0
	case "^":
		return caretCompatible(required, actual)
	}
	return false
}

// caretCompatible implements the caret range: compatible upgrades within the
// same leading non-zero component.
//
// actual must be >= required, then:
//   - required major 0, minor 0: actual's major and minor must both be 0
//     (patch may differ);
//   - required major 0, minor non-zero: actual's major must be 0 and minor
//     must equal required's;
//   - required major >= 1: actual's major must equal required's.
func caretCompatible(required, actual Version) bool {
	if actual.Compare(required) < 0 {
		return false
	}
	reqMajor, reqMinor := required.component(0), required.component(1)
	actMajor, actMinor := actual.component(0), actual.component(1)

	if reqMajor == 0 {
		if reqMinor == 0 {
			return actMajor == 0 && actMinor == 0
		}
		return actMajor == 0 && actMinor == reqMinor
	}
	return actMajor == reqMajor
}
