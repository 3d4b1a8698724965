// Package extract implements CommandKeyExtractor: given a command's argv,
// return the indices of the keys it touches, either via the declarative
// (first_key, last_key, step) table most commands use or a custom
// extractor function for the handful with variable key layout.
//
// Table-driven dispatch keyed by uppercased command name mirrors
// mikeqian-rodis/server/command/command.go's commandAttr table, generalized
// from "handler + arity" to "key-position spec + optional custom func".
package extract

import "strings"

// Spec is a command's key-position declaration. Step 0 is only valid on
// entries that carry a Custom extractor.
type Spec struct {
	FirstKey int // 1-based index into argv; 0 means "no keys"
	LastKey  int // negative counts from argv end, e.g. -1 == last argv element
	Step     int
	Custom   func(argv []string) []int
}

// Table maps an uppercased command name to its key-position spec.
type Table map[string]Spec

// Default returns the extractor table for the commands this module knows
// about (spec.md §4.7 plus the wire surface named in §6).
func Default() Table {
	return Table{
		"DEL":       {FirstKey: 1, LastKey: -1, Step: 1},
		"UNLINK":    {FirstKey: 1, LastKey: -1, Step: 1},
		"EXISTS":    {FirstKey: 1, LastKey: -1, Step: 1},
		"TYPE":      {FirstKey: 1, LastKey: 1, Step: 1},
		"RENAME":    {FirstKey: 1, LastKey: 2, Step: 1},
		"RENAMENX":  {FirstKey: 1, LastKey: 2, Step: 1},
		"MOVE":      {FirstKey: 1, LastKey: 1, Step: 1},
		"COPY":      {FirstKey: 1, LastKey: 2, Step: 1},
		"TTL":       {FirstKey: 1, LastKey: 1, Step: 1},
		"PTTL":      {FirstKey: 1, LastKey: 1, Step: 1},
		"PERSIST":   {FirstKey: 1, LastKey: 1, Step: 1},
		"OBJECT":    {FirstKey: 2, LastKey: 2, Step: 1},
		"SADD":      {FirstKey: 1, LastKey: 1, Step: 1},
		"SREM":      {FirstKey: 1, LastKey: 1, Step: 1},
		"SISMEMBER": {FirstKey: 1, LastKey: 1, Step: 1},
		"SCARD":     {FirstKey: 1, LastKey: 1, Step: 1},
		"SPOP":      {FirstKey: 1, LastKey: 1, Step: 1},
		"SRANDMEMBER": {FirstKey: 1, LastKey: 1, Step: 1},
		"SMOVE":     {FirstKey: 1, LastKey: 2, Step: 1},
		"SSCAN":     {FirstKey: 1, LastKey: 1, Step: 1},
		"SINTER":    {FirstKey: 1, LastKey: -1, Step: 1},
		"SUNION":    {FirstKey: 1, LastKey: -1, Step: 1},
		"SDIFF":     {FirstKey: 1, LastKey: -1, Step: 1},
		"SINTERSTORE": {FirstKey: 1, LastKey: -1, Step: 1},
		"SUNIONSTORE": {FirstKey: 1, LastKey: -1, Step: 1},
		"SDIFFSTORE":  {FirstKey: 1, LastKey: -1, Step: 1},

		"ZUNIONSTORE": {Custom: extractZStore},
		"ZINTERSTORE": {Custom: extractZStore},
		"EVAL":        {Custom: extractEval},
		"EVALSHA":     {Custom: extractEval},
		"SORT":        {Custom: extractSort},
		"MIGRATE":     {Custom: extractMigrate},
		"GEORADIUS":         {Custom: extractGeoRadius},
		"GEORADIUSBYMEMBER": {Custom: extractGeoRadius},
	}
}

// Extract returns the argv indices holding keys for a single command
// invocation, tolerating arity violations by returning nil rather than
// panicking (spec.md §4.7).
func Extract(t Table, argv []string) []int {
	if len(argv) == 0 {
		return nil
	}
	spec, ok := t[strings.ToUpper(argv[0])]
	if !ok {
		return nil
	}
	if spec.Custom != nil {
		return spec.Custom(argv)
	}
	return extractRange(argv, spec.FirstKey, spec.LastKey, spec.Step)
}

func extractRange(argv []string, first, last, step int) []int {
	if first <= 0 || step <= 0 {
		return nil
	}
	end := last
	if end < 0 {
		end = len(argv) + end
	}
	if first >= len(argv) || end >= len(argv) || end < first {
		return nil
	}
	var out []int
	for i := first; i <= end; i += step {
		out = append(out, i)
	}
	return out
}

func atoiSafe(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

// extractZStore: ZUNIONSTORE/ZINTERSTORE dest numkeys key [key ...] ...
func extractZStore(argv []string) []int {
	if len(argv) < 4 {
		return nil
	}
	n, ok := atoiSafe(argv[2])
	if !ok || n < 0 {
		return nil
	}
	out := []int{1}
	for i := 0; i < n; i++ {
		idx := 3 + i
		if idx >= len(argv) {
			return nil
		}
		out = append(out, idx)
	}
	return out
}

// extractEval: EVAL script numkeys key [key ...] arg ...
func extractEval(argv []string) []int {
	if len(argv) < 3 {
		return nil
	}
	n, ok := atoiSafe(argv[2])
	if !ok || n < 0 {
		return nil
	}
	var out []int
	for i := 0; i < n; i++ {
		idx := 3 + i
		if idx >= len(argv) {
			return nil
		}
		out = append(out, idx)
	}
	return out
}

// extractSort: SORT key ... [STORE dest]
func extractSort(argv []string) []int {
	if len(argv) < 2 {
		return nil
	}
	out := []int{1}
	for i := 2; i < len(argv); i++ {
		if strings.EqualFold(argv[i], "STORE") && i+1 < len(argv) {
			out = append(out, i+1)
		}
	}
	return out
}

// extractMigrate: MIGRATE host port key|"" dbid timeout ... [KEYS k1 k2 ...]
func extractMigrate(argv []string) []int {
	if len(argv) < 6 {
		return nil
	}
	if argv[3] != "" {
		return []int{3}
	}
	for i := 6; i < len(argv); i++ {
		if strings.EqualFold(argv[i], "KEYS") {
			var out []int
			for j := i + 1; j < len(argv); j++ {
				out = append(out, j)
			}
			return out
		}
	}
	return nil
}

// extractGeoRadius: GEORADIUS[BYMEMBER] key ... [STORE dest] [STOREDIST dest]
func extractGeoRadius(argv []string) []int {
	if len(argv) < 2 {
		return nil
	}
	out := []int{1}
	for i := 2; i < len(argv); i++ {
		if (strings.EqualFold(argv[i], "STORE") || strings.EqualFold(argv[i], "STOREDIST")) && i+1 < len(argv) {
			out = append(out, i+1)
		}
	}
	return out
}
