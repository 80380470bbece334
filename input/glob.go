// File: input/glob.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package input

import (
	"os"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/momentics/hioload-nf/api"
)

// expandFiles resolves every pattern to the files it names, in pattern
// order. A plain path must exist; a pattern must match at least one file.
func expandFiles(patterns []string) ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	for _, p := range patterns {
		matches, err := doublestar.FilepathGlob(p, doublestar.WithFilesOnly())
		if err != nil {
			return nil, api.ConfigError("input: bad file pattern %q", p).WithContext("pattern", p).Wrap(err)
		}
		if len(matches) == 0 {
			if _, statErr := os.Stat(p); statErr != nil {
				return nil, api.ConfigError("input: no file matches %q", p).WithContext("pattern", p).Wrap(statErr)
			}
			matches = []string{p}
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	return out, nil
}
