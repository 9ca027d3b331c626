package stringutil

import (
	"crypto/sha1"
	"fmt"
	"io"
	"net/mail"
	"strings"
	"unicode"
)

// maxNameLen bounds the length of names produced by SafeFileName.
const maxNameLen = 100

// HashName accepts a name and hashes it.  The blob stores use the hash to shard their
// directory trees.
func HashName(name string) string {
	h := sha1.New()
	if _, err := io.WriteString(h, name); err != nil {
		// This shouldn't ever happen
		return ""
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// SafeFileName replaces every rune that is unsafe in a file name with an underscore, and
// truncates the result.  An empty name becomes "unnamed".
func SafeFileName(name string) string {
	name = strings.Map(func(r rune) rune {
		switch {
		case r == '.' || r == '-' || r == '_' || r == '@' || r == '+':
			return r
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			return r
		}
		return '_'
	}, name)
	name = strings.Trim(name, ".")
	if len(name) > maxNameLen {
		name = name[len(name)-maxNameLen:]
	}
	if name == "" {
		return "unnamed"
	}
	return name
}

// StringAddressList converts a list of addresses to a list of strings
func StringAddressList(addrs []*mail.Address) []string {
	s := make([]string, len(addrs))
	for i, a := range addrs {
		if a != nil {
			s[i] = a.String()
		}
	}
	return s
}
