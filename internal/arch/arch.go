// Package arch maps host CPU capability text to the architecture tag used to
// pick native library variants out of an archive.
package arch

import (
	"fmt"
	"strings"
)

// Tag identifies a CPU instruction-set family.
type Tag int

const (
	ARM Tag = iota
	X86
	MIPS
)

// Token returns the substring that marks this architecture in archive entry
// paths, following the lib/<abi>/ packaging convention.
func (t Tag) Token() string {
	switch t {
	case X86:
		return "x86"
	case MIPS:
		return "mips"
	default:
		return "armeabi"
	}
}

func (t Tag) String() string {
	switch t {
	case X86:
		return "x86"
	case MIPS:
		return "mips"
	default:
		return "arm"
	}
}

// detectOrder is the match priority for Detect.
var detectOrder = []struct {
	needle string
	tag    Tag
}{
	{"arm", ARM},
	{"x86", X86},
	{"mips", MIPS},
}

// Detect classifies free-form capability text such as a CPU model string.
// Matching is a case-insensitive substring search for "arm", "x86" and "mips",
// in that order.
//
// Text that matches none of them, including empty text from an unavailable
// capability source, yields ARM. Callers rely on this fallback; it is not an
// error.
func Detect(text string) Tag {
	lower := strings.ToLower(text)
	for _, d := range detectOrder {
		if strings.Contains(lower, d.needle) {
			return d.tag
		}
	}
	return ARM
}

// ParseTag parses a user supplied architecture name. Both the tag names
// ("arm", "x86", "mips") and the packaging tokens are accepted.
func ParseTag(s string) (Tag, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "arm", "armeabi":
		return ARM, nil
	case "x86":
		return X86, nil
	case "mips":
		return MIPS, nil
	default:
		return ARM, fmt.Errorf("unknown architecture %q (want arm, x86 or mips)", s)
	}
}
