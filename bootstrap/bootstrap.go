/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package bootstrap loads and validates the two optional bootstrap
// files (neighbors, key values), ported from the reference loaders with
// Go-typed errors. The listen endpoint is not handled here; the CLI
// parses it with wire.ParseEndpoint.
package bootstrap

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/open-overlay/p2pkv/wire"
)

// LoadNeighbors reads one "ip:port" endpoint per line. Blank lines are
// not permitted.
func LoadNeighbors(path string) ([]wire.Endpoint, error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}
	out := make([]wire.Endpoint, 0, len(lines))
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			return nil, fmt.Errorf("bootstrap: %s:%d: blank line not permitted", path, i+1)
		}
		ep, err := wire.ParseEndpoint(strings.TrimSpace(line))
		if err != nil {
			return nil, fmt.Errorf("bootstrap: %s:%d: %w", path, i+1, err)
		}
		out = append(out, ep)
	}
	return out, nil
}

// LoadKeyValues reads one "<key> <value>" record per line. Key must
// not contain whitespace; value is everything after the first space.
func LoadKeyValues(path string) (map[string]string, error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(lines))
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		parts := strings.SplitN(line, " ", 2)
		if len(parts) != 2 || parts[0] == "" {
			return nil, fmt.Errorf("bootstrap: %s:%d: malformed key-value record %q", path, i+1, line)
		}
		out[parts[0]] = parts[1]
	}
	return out, nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: opening %s: %w", path, err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("bootstrap: reading %s: %w", path, err)
	}
	return lines, nil
}
