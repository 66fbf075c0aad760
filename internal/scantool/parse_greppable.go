package scantool

import (
	"regexp"
	"strconv"
	"strings"
)

// openPortsPattern matches the bracketed port list of rustscan's
// greppable output, e.g. "10.0.0.5 -> [22,80,443]"; lines without a
// bracketed list (such as nmap's "Ports:" lines) do not match. The list
// is split on commas and any token that isn't a run of digits is
// ignored rather than failing the parse.
var openPortsPattern = regexp.MustCompile(`\[([^\]]*)\]`)
var portTokenPattern = regexp.MustCompile(`^[0-9]+$`)

// ParseGreppablePorts extracts the set of open port numbers from
// rustscan's "-> [p1, p2, ...]" greppable line, deduplicating repeated
// ports and ignoring malformed tokens.
func ParseGreppablePorts(output string) []int {
	matches := openPortsPattern.FindAllStringSubmatch(output, -1)
	if matches == nil {
		return nil
	}

	seen := make(map[int]bool)
	var ports []int
	for _, m := range matches {
		for _, tok := range strings.Split(m[1], ",") {
			tok = strings.TrimSpace(tok)
			if !portTokenPattern.MatchString(tok) {
				continue
			}
			n, err := strconv.Atoi(tok)
			if err != nil {
				continue
			}
			if seen[n] {
				continue
			}
			seen[n] = true
			ports = append(ports, n)
		}
	}
	return ports
}
