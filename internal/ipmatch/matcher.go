package ipmatch

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	ErrEmptyList    = errors.New("ip allow list is empty")
	ErrEmptyEntry   = errors.New("ip allow list contains an empty entry")
	ErrInvalidEntry = errors.New("ip allow list entry is not an address or CIDR range")
)

// Match reports whether clientIP is covered by the comma separated
// allowList. Entries are either literal addresses or CIDR ranges, IPv4
// and IPv6 alike. Literal comparison goes through net.IP.Equal so
// equivalent spellings of the same address match.
//
// The matcher fails closed: an unparseable client address, an empty or
// malformed list, and a CIDR entry that does not parse all result in no
// match rather than an error at request time.
func Match(clientIP, allowList string) bool {
	ip := net.ParseIP(strings.TrimSpace(clientIP))
	if ip == nil {
		return false
	}

	entries, err := splitList(allowList)
	if err != nil {
		return false
	}

	for _, entry := range entries {
		if strings.Contains(entry, "/") {
			_, network, err := net.ParseCIDR(entry)
			if err != nil {
				// Unparseable range never matches.
				continue
			}
			if network.Contains(ip) {
				return true
			}
			continue
		}
		if allowed := net.ParseIP(entry); allowed != nil && allowed.Equal(ip) {
			return true
		}
	}

	return false
}

// ValidateList checks that every entry of allowList parses as a literal
// address or CIDR range. Used at startup so a bad allow list is a fatal
// configuration error instead of a silent lockout.
func ValidateList(allowList string) error {
	entries, err := splitList(allowList)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if strings.Contains(entry, "/") {
			if _, _, err := net.ParseCIDR(entry); err != nil {
				return fmt.Errorf("%w: %q", ErrInvalidEntry, entry)
			}
			continue
		}
		if net.ParseIP(entry) == nil {
			return fmt.Errorf("%w: %q", ErrInvalidEntry, entry)
		}
	}

	return nil
}

func splitList(allowList string) ([]string, error) {
	if strings.TrimSpace(allowList) == "" {
		return nil, ErrEmptyList
	}

	parts := strings.Split(allowList, ",")
	entries := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, ErrEmptyEntry
		}
		entries = append(entries, part)
	}

	return entries, nil
}
