// Package hostsyntax expands the "<N-M,...>" bracket syntax used on the
// mash command line into a concrete list of hostnames, and splits an
// optional ":port" suffix off a hostname.
package hostsyntax

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	syntaxRe   = regexp.MustCompile(`<([0-9,\-]+)>`)
	intervalRe = regexp.MustCompile(`^([0-9]+)(-[0-9]+)?$`)
)

// SplitPort splits hostname into (host, port), defaulting port to "22"
// when hostname carries no ":port" suffix.
func SplitPort(hostname string) (host, port string) {
	if idx := strings.IndexByte(hostname, ':'); idx >= 0 {
		return hostname[:idx], hostname[idx+1:]
	}
	return hostname, "22"
}

func iterNumbers(start, end string) []string {
	s, _ := strconv.ParseInt(start, 10, 64)
	e, _ := strconv.ParseInt(end, 10, 64)
	zeroPad := (len(start) > 1 && start[0] == '0') || (len(end) > 1 && end[0] == '0')
	width := len(start)
	if len(end) > width {
		width = len(end)
	}
	increment := int64(1)
	if s > e {
		increment = -1
	}

	var results []string
	for i := s; ; i += increment {
		var formatted string
		if zeroPad {
			formatted = fmt.Sprintf("%0*d", width, i)
		} else {
			formatted = strconv.FormatInt(i, 10)
		}
		results = append(results, formatted)
		if i == e {
			break
		}
	}
	return results
}

// ExpandSyntax expands the first "<...>" range expression found in input,
// recursively expanding any remaining range expressions in the result, and
// returns every concrete string produced. Input with no range expression
// expands to a single-element slice containing input unchanged.
func ExpandSyntax(input string) []string {
	loc := syntaxRe.FindStringSubmatchIndex(input)
	if loc == nil {
		return []string{input}
	}

	prefix := input[:loc[0]]
	suffix := input[loc[1]:]
	inner := input[loc[0]+1 : loc[1]-1]

	var results []string
	for _, interval := range strings.Split(inner, ",") {
		caps := intervalRe.FindStringSubmatch(interval)
		if caps == nil {
			continue
		}
		start := caps[1]
		end := start
		if caps[2] != "" {
			end = caps[2][1:] // strip leading '-'
		}
		for _, numStr := range iterNumbers(start, end) {
			combined := prefix + numStr + suffix
			results = append(results, ExpandSyntax(combined)...)
		}
	}
	return results
}
