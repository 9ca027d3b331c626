package account

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// atextSpecials may appear unquoted in the local part of an address.
const atextSpecials = "!#$%&'*+-/=?^_`{|}~"

// ParseAddress splits an account address into its unescaped local part and its domain,
// validating both following the guidelines of RFC 3696.
func ParseAddress(address string) (local, domain string, err error) {
	switch {
	case address == "":
		return "", "", errors.New("empty address")
	case len(address) > 320:
		return "", "", errors.New("address exceeds 320 characters")
	case address[0] == '@' || address[0] == '.':
		return "", "", fmt.Errorf("address cannot start with %q", address[0])
	}

	var sb strings.Builder
	prev := byte('.')
	escaped, quoted := false, false
	for i := 0; i < len(address); i++ {
		c := address[i]
		if c > 127 {
			return "", "", errors.New("characters outside of US-ASCII are not permitted")
		}
		switch {
		case escaped:
			sb.WriteByte(c)
			escaped = false
		case c == '\\':
			escaped = true
		case c == '"':
			switch {
			case quoted:
				quoted = false
			case i == 0:
				quoted = true
			default:
				return "", "", errors.New("quoted string can only begin at start of address")
			}
		case quoted:
			sb.WriteByte(c)
		case c == '@':
			if i > 128 {
				return "", "", errors.New("local part must not exceed 128 characters")
			}
			if prev == '.' {
				return "", "", errors.New("local part cannot end with a period")
			}
			domain = address[i+1:]
			if !ValidHostname(domain) {
				return "", "", fmt.Errorf("invalid domain %q", domain)
			}
			return sb.String(), domain, nil
		case c == '.':
			if prev == '.' {
				return "", "", errors.New("sequence of periods is not permitted")
			}
			sb.WriteByte(c)
		case isAlnum(c) || strings.IndexByte(atextSpecials, c) >= 0:
			sb.WriteByte(c)
		default:
			return "", "", fmt.Errorf("character %q must be quoted", c)
		}
		prev = c
	}
	if escaped {
		return "", "", errors.New("address ends with an unterminated quoted-pair")
	}
	if quoted {
		return "", "", errors.New("address ends with an unterminated string quote")
	}
	return "", "", errors.New("address has no domain part")
}

// ValidHostname reports whether name is a DNS host name per RFC 1035, allowing underscores
// and a trailing dot.
func ValidHostname(name string) bool {
	if name == "" || len(name) > 255 {
		return false
	}
	for _, label := range strings.Split(strings.TrimSuffix(name, "."), ".") {
		if label == "" || len(label) > 63 || label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		alnum := false
		for i := 0; i < len(label); i++ {
			switch c := label[i]; {
			case isAlnum(c) || c == '_':
				alnum = true
			case c == '-':
			default:
				return false
			}
		}
		if !alnum {
			return false
		}
	}
	return true
}

// validHost accepts host names and IP literals.
func validHost(host string) bool {
	return net.ParseIP(host) != nil || ValidHostname(host)
}

func isAlnum(c byte) bool {
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}
