// File: stages/acl.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Header-based access control with ClassBench rules. The rule set is parsed
// once per file and shared read-only by every instance.

package stages

import (
	"bufio"
	"fmt"
	"io"
	"net/netip"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/momentics/hioload-nf/api"
	"github.com/momentics/hioload-nf/stage"
	"github.com/momentics/hioload-nf/stats"
)

// MaxACLRules caps the size of a rule file.
const MaxACLRules = 100000

// ACLRule is one ClassBench rule. Port ranges are inclusive.
type ACLRule struct {
	Src, Dst         netip.Prefix
	SrcLo, SrcHi     uint16
	DstLo, DstHi     uint16
	Proto, ProtoMask uint8
	Line             int
}

// Match reports whether the tuple fields satisfy the rule.
func (r *ACLRule) Match(src, dst netip.Addr, sp, dp uint16, proto uint8) bool {
	return r.Src.Contains(src) && r.Dst.Contains(dst) &&
		sp >= r.SrcLo && sp <= r.SrcHi &&
		dp >= r.DstLo && dp <= r.DstHi &&
		proto&r.ProtoMask == r.Proto&r.ProtoMask
}

// ACLRules is an ordered rule list; earlier rules win.
type ACLRules []ACLRule

// Classify returns the index of the first matching rule or -1.
func (rs ACLRules) Classify(src, dst netip.Addr, sp, dp uint16, proto uint8) int {
	for i := range rs {
		if rs[i].Match(src, dst, sp, dp, proto) {
			return i
		}
	}
	return -1
}

// ParseACLRules reads ClassBench lines:
//
//	@<src>/<len> <dst>/<len> <sp_lo> : <sp_hi> <dp_lo> : <dp_hi> <proto>/<mask>
//
// Blank lines and '#' comments are skipped.
func ParseACLRules(r io.Reader) (ACLRules, error) {
	var rules ACLRules
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		rule, err := parseACLRule(text)
		if err != nil {
			return nil, api.ConfigError("acl line %d: %v", line, err).WithContext("line", line)
		}
		rule.Line = line
		rules = append(rules, rule)
		if len(rules) > MaxACLRules {
			return nil, api.ConfigError("acl: more than %d rules", MaxACLRules)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("acl: read rules: %w", err)
	}
	return rules, nil
}

// LoadACLRules parses the rule file at path.
func LoadACLRules(path string) (ACLRules, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, api.ConfigError("acl: rules file").WithContext("path", path).Wrap(err)
	}
	defer f.Close()
	return ParseACLRules(f)
}

func parseACLRule(s string) (ACLRule, error) {
	var r ACLRule
	if !strings.HasPrefix(s, "@") {
		return r, fmt.Errorf("rule must start with '@'")
	}
	f := strings.Fields(s[1:])
	if len(f) < 9 {
		return r, fmt.Errorf("want 9 fields, got %d", len(f))
	}
	var err error
	if r.Src, err = netip.ParsePrefix(f[0]); err != nil {
		return r, fmt.Errorf("source: %w", err)
	}
	if r.Dst, err = netip.ParsePrefix(f[1]); err != nil {
		return r, fmt.Errorf("destination: %w", err)
	}
	r.Src, r.Dst = r.Src.Masked(), r.Dst.Masked()
	if f[3] != ":" || f[6] != ":" {
		return r, fmt.Errorf("port ranges need ':' delimiters")
	}
	ports := []*uint16{&r.SrcLo, &r.SrcHi, &r.DstLo, &r.DstHi}
	for i, idx := range []int{2, 4, 5, 7} {
		v, err := strconv.ParseUint(f[idx], 10, 16)
		if err != nil {
			return r, fmt.Errorf("port %q: %w", f[idx], err)
		}
		*ports[i] = uint16(v)
	}
	proto, mask, ok := strings.Cut(f[8], "/")
	if !ok {
		return r, fmt.Errorf("protocol %q needs a mask", f[8])
	}
	p, err := strconv.ParseUint(proto, 0, 8)
	if err != nil {
		return r, fmt.Errorf("protocol %q: %w", proto, err)
	}
	m, err := strconv.ParseUint(mask, 0, 8)
	if err != nil {
		return r, fmt.Errorf("protocol mask %q: %w", mask, err)
	}
	r.Proto, r.ProtoMask = uint8(p), uint8(m)
	return r, nil
}

// ACL classifies packets against the shared rule set. Matching packets are
// dropped when drop_matched is set; everything else passes.
type ACL struct {
	env   *stage.Env
	keys  flowKeyer
	rules ACLRules
	drop  bool
	out   []api.Buffer

	matched *stats.Counter
	passed  *stats.Counter
}

var _ stage.Stage = (*ACL)(nil)

func (a *ACL) Init(env *stage.Env) error {
	path := env.Param("rules", "")
	if path == "" {
		return api.ConfigError("acl: parameter acl.rules (rule file) is required").WithContext("stage", env.Type)
	}
	v, err := env.Shared.Acquire("acl:"+path, func() (any, error) {
		rules, err := LoadACLRules(path)
		if err != nil {
			return nil, err
		}
		env.Log().Info("acl rules loaded", zap.String("path", path), zap.Int("rules", len(rules)))
		return rules, nil
	})
	if err != nil {
		return err
	}
	a.rules = v.(ACLRules)
	if a.drop, err = env.BoolParam("drop_matched", false); err != nil {
		return err
	}
	a.env = env
	a.keys = newFlowKeyer(env, "acl")
	a.matched = env.Stats().Counter("acl.matched")
	a.passed = env.Stats().Counter("acl.passed")
	a.out = make([]api.Buffer, 0, max(env.BatchSize, 1))
	return nil
}

func (a *ACL) Exec(in []api.Buffer) []api.Buffer {
	a.out = a.out[:0]
	for _, b := range in {
		t, ok := a.keys.tuple(b)
		if ok && a.rules.Classify(t.Src, t.Dst, t.SrcPort, t.DstPort, t.Proto) >= 0 {
			a.matched.Inc()
			if a.drop {
				b.Release()
				a.env.Stats().AddDrop(1)
				continue
			}
		} else {
			a.passed.Inc()
		}
		a.out = append(a.out, b)
	}
	return a.out
}

func (a *ACL) Free() error {
	a.rules, a.out = nil, nil
	return nil
}
