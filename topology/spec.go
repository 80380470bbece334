// File: topology/spec.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package topology

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/momentics/hioload-nf/api"
	"github.com/momentics/hioload-nf/stage"
)

// LayerSpec is one pipeline layer: a stage type and its instance count.
type LayerSpec struct {
	Type      string `yaml:"type" toml:"type" json:"type"`
	Instances int    `yaml:"instances" toml:"instances" json:"instances"`
}

// Spec lists the layers in pipeline order. An empty Spec is a pass-through.
type Spec []LayerSpec

// Limits bounds the size of a Spec.
type Limits struct {
	MaxLayers    int
	MaxInstances int
}

// DefaultLimits matches the stage table sizes of the runtime.
var DefaultLimits = Limits{MaxLayers: 8, MaxInstances: 16}

// ParseSpec reads the text format: one "stage-type-name instance-count"
// per line. Blank lines and lines starting with '#' are skipped.
func ParseSpec(r io.Reader) (Spec, error) {
	var spec Spec
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, api.ConfigError("topology line %d: want \"<stage-type> <instances>\", got %q", lineNo, line).
				WithContext("line", lineNo)
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, api.ConfigError("topology line %d: bad instance count %q", lineNo, fields[1]).
				WithContext("line", lineNo).Wrap(err)
		}
		spec = append(spec, LayerSpec{Type: fields[0], Instances: n})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("topology: read: %w", err)
	}
	return spec, nil
}

// ParseSpecFile parses the topology file at path.
func ParseSpecFile(path string) (Spec, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, api.ConfigError("topology file %s", path).Wrap(err)
	}
	defer f.Close()
	return ParseSpec(f)
}

// Validate checks counts and sizes against l.
func (s Spec) Validate(l Limits) error {
	if l.MaxLayers > 0 && len(s) > l.MaxLayers {
		return api.ConfigError("topology: %d layers exceed the limit of %d", len(s), l.MaxLayers)
	}
	for i, ls := range s {
		if ls.Type == "" {
			return api.ConfigError("topology layer %d: empty stage type", i).WithContext("layer", i)
		}
		if ls.Instances <= 0 {
			return api.ConfigError("topology layer %d (%s): instance count must be positive, got %d", i, ls.Type, ls.Instances).
				WithContext("layer", i).WithContext("stage", ls.Type)
		}
		if l.MaxInstances > 0 && ls.Instances > l.MaxInstances {
			return api.ConfigError("topology layer %d (%s): %d instances exceed the limit of %d", i, ls.Type, ls.Instances, l.MaxInstances).
				WithContext("layer", i).WithContext("stage", ls.Type)
		}
	}
	return nil
}

// CheckTypes reports the first layer whose type reg does not know.
func (s Spec) CheckTypes(reg *stage.Registry) error {
	for i, ls := range s {
		if !reg.Has(ls.Type) {
			return api.Errorf(api.ErrCodeUnknownStage, "topology layer %d: unknown stage type %q", i, ls.Type).
				WithContext("layer", i).WithContext("stage", ls.Type)
		}
	}
	return nil
}

// Instances returns the total instance count over all layers.
func (s Spec) Instances() int {
	n := 0
	for _, ls := range s {
		n += ls.Instances
	}
	return n
}

// String renders s in the text format.
func (s Spec) String() string {
	var b strings.Builder
	for _, ls := range s {
		fmt.Fprintf(&b, "%s %d\n", ls.Type, ls.Instances)
	}
	return b.String()
}
