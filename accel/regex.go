// File: accel/regex.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package accel

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
	"go.uber.org/zap"

	"github.com/momentics/hioload-nf/api"
)

// RegexConfig describes the pattern-matching engine rule set.
type RegexConfig struct {
	Rules        []string      `yaml:"rules" toml:"rules" ignored:"true"`
	RulesFile    string        `yaml:"rules_file" toml:"rules_file" envconfig:"RULES_FILE"`
	MatchTimeout time.Duration `yaml:"-" toml:"-" ignored:"true"`
	MaxMatches   int           `yaml:"max_matches" toml:"max_matches" envconfig:"MAX_MATCHES"`
	IgnoreCase   bool          `yaml:"ignore_case" toml:"ignore_case" envconfig:"IGNORE_CASE"`
}

// RegexParams narrows matching to the payload.
type RegexParams struct {
	Offset int
}

// LoadRules reads one pattern per line; blank lines and '#' comments are
// skipped.
func LoadRules(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, api.ConfigError("regex: rules file").WithContext("path", path).Wrap(err)
	}
	defer f.Close()

	var rules []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rules = append(rules, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("regex: read %s: %w", path, err)
	}
	return rules, nil
}

// CompileRules compiles cfg.Rules plus the rules file.
func CompileRules(cfg RegexConfig) ([]*regexp2.Regexp, error) {
	rules := append([]string(nil), cfg.Rules...)
	if cfg.RulesFile != "" {
		more, err := LoadRules(cfg.RulesFile)
		if err != nil {
			return nil, err
		}
		rules = append(rules, more...)
	}
	if len(rules) == 0 {
		return nil, api.ConfigError("regex: empty rule set")
	}
	opts := regexp2.None
	if cfg.IgnoreCase {
		opts |= regexp2.IgnoreCase
	}
	out := make([]*regexp2.Regexp, 0, len(rules))
	for i, r := range rules {
		re, err := regexp2.Compile(r, opts)
		if err != nil {
			return nil, api.ConfigError("regex: rule %d", i).WithContext("rule", r).Wrap(err)
		}
		if cfg.MatchTimeout > 0 {
			re.MatchTimeout = cfg.MatchTimeout
		}
		out = append(out, re)
	}
	return out, nil
}

// NewRegexProcessor returns a Processor counting rule matches in the
// payload of op.Src. The buffer is not modified.
func NewRegexProcessor(cfg RegexConfig) (Processor, error) {
	res, err := CompileRules(cfg)
	if err != nil {
		return nil, err
	}
	maxMatches := cfg.MaxMatches
	return func(op *api.Op) {
		if op.Src == nil {
			op.Status = api.OpMalformed
			return
		}
		data := op.Src.Bytes()
		if p, ok := op.Params.(RegexParams); ok {
			if p.Offset < 0 || p.Offset > len(data) {
				op.Status = api.OpMalformed
				return
			}
			data = data[p.Offset:]
		}
		payload := string(data)
		matches := 0
		for _, re := range res {
			m, err := re.FindStringMatch(payload)
			for m != nil && err == nil {
				matches++
				if maxMatches > 0 && matches > maxMatches {
					op.Matches = matches
					op.Status = api.OpMatchOverflow
					return
				}
				m, err = re.FindNextMatch(m)
			}
			if err != nil {
				op.Matches = matches
				if isTimeout(err) {
					op.Status = api.OpTimeout
				} else {
					op.Status = api.OpFailed
				}
				return
			}
		}
		op.Matches = matches
		op.Status = api.OpSuccess
	}, nil
}

func isTimeout(err error) bool {
	// regexp2 reports an exceeded MatchTimeout as a plain error value
	return err != nil && (errors.Is(err, os.ErrDeadlineExceeded) || strings.Contains(err.Error(), "timeout"))
}

// NewRegexEngine starts a pattern-matching engine.
func NewRegexEngine(workers, depth int, cfg RegexConfig, log *zap.Logger) (*Engine, error) {
	proc, err := NewRegexProcessor(cfg)
	if err != nil {
		return nil, fmt.Errorf("regex engine: %w", err)
	}
	return NewEngine("regex", workers, depth, proc, log), nil
}
