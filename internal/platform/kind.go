package platform

import "strings"

// Kind identifies a messaging platform.
type Kind string

const (
	Facebook  Kind = "facebook"
	Instagram Kind = "instagram"
)

func (k Kind) Valid() bool {
	switch k {
	case Facebook, Instagram:
		return true
	}
	return false
}

// ParseKind accepts a platform name in any case.
func ParseKind(s string) (Kind, bool) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	return k, k.Valid()
}

// KindFromObject maps the top-level webhook "object" discriminator to a platform.
func KindFromObject(object string) (Kind, bool) {
	switch object {
	case "page":
		return Facebook, true
	case "instagram":
		return Instagram, true
	}
	return "", false
}
