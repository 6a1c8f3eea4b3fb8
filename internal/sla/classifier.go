package sla

import "strings"

// IsStationAddress reports whether a channel identity matches one of the
// extension's configured station patterns. The identity may be a raw
// endpoint address ("phone1", "phone1@pbx") or a full Asterisk channel name
// ("PJSIP/phone1-00000001"); patterns may likewise carry an optional
// "@server" qualifier. Matching compares the bare endpoint parts, so
// "phone1" matches "phone1@pbx" and vice versa.
func IsStationAddress(identity string, ext *SharedExtension) bool {
	candidate := endpointPart(identity)
	for _, pattern := range ext.Stations {
		if candidate == endpointPart(pattern) {
			return true
		}
	}
	return false
}

// endpointPart reduces a channel name, endpoint address, or station pattern
// to its bare endpoint: technology prefix, per-call unique suffix, and
// server qualifier removed.
func endpointPart(identity string) string {
	s := identity

	// Strip a technology prefix ("PJSIP/phone1-..." -> "phone1-...").
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[i+1:]
	}

	// Strip an optional trailing server qualifier.
	if i := strings.IndexByte(s, '@'); i >= 0 {
		s = s[:i]
	}

	// Channel names carry a per-call unique suffix after the last dash
	// ("phone1-00000001"). Endpoint addresses configured with dashes keep
	// them: only a trailing hex run is removed.
	if i := strings.LastIndexByte(s, '-'); i >= 0 && isHex(s[i+1:]) {
		s = s[:i]
	}

	return s
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
