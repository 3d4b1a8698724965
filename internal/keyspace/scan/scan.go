// Package scan implements the unified cursor-scan protocol shared by SCAN
// and SSCAN, plus the glob pattern matcher used by their MATCH option and
// by KEYS.
//
// The matcher is a direct Go port of the stringmatchlen algorithm in
// original_source/ (util.c) — none of the retrieved Go example repos
// implement glob matching, so this one piece has no in-pack grounding
// beyond that original source and is written from its documented behavior.
package scan

import (
	"errors"
	"strconv"
)

// ErrBadCursor is returned by ParseCursor on malformed input.
var ErrBadCursor = errors.New("scan: malformed cursor")

// ParseCursor decodes a base-10 ASCII cursor. Leading whitespace or
// trailing garbage is rejected (spec.md §6, "Cursor format").
func ParseCursor(s string) (uint64, error) {
	if s == "" {
		return 0, ErrBadCursor
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, ErrBadCursor
		}
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, ErrBadCursor
	}
	return v, nil
}

// FormatCursor encodes a cursor back to base-10 ASCII.
func FormatCursor(c uint64) string { return strconv.FormatUint(c, 10) }

// Match reports whether str matches the glob pattern (*, ?, [class], [^class],
// \esc).
func Match(pattern, str string) bool {
	return globMatch([]byte(pattern), []byte(str))
}

func globMatch(pattern, str []byte) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case '*':
			for len(pattern) > 1 && pattern[1] == '*' {
				pattern = pattern[1:]
			}
			if len(pattern) == 1 {
				return true
			}
			for i := 0; i <= len(str); i++ {
				if globMatch(pattern[1:], str[i:]) {
					return true
				}
			}
			return false
		case '?':
			if len(str) == 0 {
				return false
			}
			str = str[1:]
			pattern = pattern[1:]
		case '[':
			if len(str) == 0 {
				return false
			}
			pattern = pattern[1:]
			negate := false
			if len(pattern) > 0 && pattern[0] == '^' {
				negate = true
				pattern = pattern[1:]
			}
			matched := false
			for len(pattern) > 0 && pattern[0] != ']' {
				switch {
				case pattern[0] == '\\' && len(pattern) >= 2:
					pattern = pattern[1:]
					if pattern[0] == str[0] {
						matched = true
					}
					pattern = pattern[1:]
				case len(pattern) >= 3 && pattern[1] == '-' && pattern[2] != ']':
					lo, hi := pattern[0], pattern[2]
					if lo > hi {
						lo, hi = hi, lo
					}
					if str[0] >= lo && str[0] <= hi {
						matched = true
					}
					pattern = pattern[3:]
				default:
					if pattern[0] == str[0] {
						matched = true
					}
					pattern = pattern[1:]
				}
			}
			if len(pattern) > 0 {
				pattern = pattern[1:] // skip ']'
			}
			if negate {
				matched = !matched
			}
			if !matched {
				return false
			}
			str = str[1:]
		case '\\':
			if len(pattern) >= 2 {
				pattern = pattern[1:]
			}
			if len(str) == 0 || str[0] != pattern[0] {
				return false
			}
			str = str[1:]
			pattern = pattern[1:]
		default:
			if len(str) == 0 || str[0] != pattern[0] {
				return false
			}
			str = str[1:]
			pattern = pattern[1:]
		}
	}
	return len(str) == 0
}

// Params is the cursor/count/match triple every *SCAN variant accepts.
type Params struct {
	Cursor uint64
	Count  int64 // advisory batch hint, not a limit; < 1 means the default of 10
	Match  string
}

func (p Params) count() int64 {
	if p.Count < 1 {
		return 10
	}
	return p.Count
}

// maxIterations bounds work done against pathologically sparse tables:
// 10*count dict-scan steps per call (spec.md §4.6).
func (p Params) maxIterations() int { return int(10 * p.count()) }

// Source abstracts a scan target: either a dict-backed table (Set/Hash/ZSet
// in hashtable encoding, or the keyspace dict itself) or a compact encoding
// that is always returned in a single shot.
type Source interface {
	// Compact returns every element and true if this target is a compact
	// encoding (IntSet, listpack) cheap enough to dump in one call.
	Compact() ([]string, bool)
	// ScanDict performs one dict-scan step, returning the next cursor.
	ScanDict(cursor uint64, emit func(key string)) uint64
}

// Run executes one SCAN-family call against src, applying MATCH filtering
// and (for the keyspace dict only) an expiry filter.
func Run(src Source, p Params, isExpired func(key string) bool) (nextCursor uint64, keys []string) {
	if all, ok := src.Compact(); ok {
		for _, k := range all {
			if p.Match != "" && !Match(p.Match, k) {
				continue
			}
			if isExpired != nil && isExpired(k) {
				continue
			}
			keys = append(keys, k)
		}
		return 0, keys
	}

	cursor := p.Cursor
	maxIter := p.maxIterations()
	for i := 0; i < maxIter; i++ {
		cursor = src.ScanDict(cursor, func(k string) {
			if p.Match != "" && !Match(p.Match, k) {
				return
			}
			if isExpired != nil && isExpired(k) {
				return
			}
			keys = append(keys, k)
		})
		if cursor == 0 {
			break
		}
	}
	return cursor, keys
}
