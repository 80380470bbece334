// File: stages/registry.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package stages

import (
	"github.com/momentics/hioload-nf/stage"
)

// Composite application chains.
var apps = map[string][]string{
	"app_fw":        {"hll", "acl"},
	"app_ids":       {"cms", "ddos", "regex"},
	"app_ipcomp_gw": {"ddos", "compress"},
	"app_ipsec_gw":  {"ddos", "regex", "sha", "aes"},
	"app_flow_mon":  {"cms", "hll"},
	"app_api_gw":    {"api_gw"},
	"app_l7_lb":     {"http_parser"},
}

// Default returns a fresh registry holding every built-in stage and
// application.
func Default() *stage.Registry {
	r := stage.NewRegistry()
	Register(r)
	return r
}

// Register adds the built-in stages to r. It panics on a duplicate type.
func Register(r *stage.Registry) {
	r.MustRegister("echo", func() stage.Stage { return &Echo{} })
	r.MustRegister("ddos", func() stage.Stage { return &DDoS{} })
	r.MustRegister("cms", func() stage.Stage { return &CMS{} })
	r.MustRegister("hll", func() stage.Stage { return &HLL{} })
	r.MustRegister("acl", func() stage.Stage { return &ACL{} })
	r.MustRegister("l3_lb", func() stage.Stage { return &L3LB{} })
	r.MustRegister("http_parser", func() stage.Stage { return &HTTPParser{} })
	r.MustRegister("api_gw", func() stage.Stage { return &APIGateway{} })
	r.MustRegister("aes", func() stage.Stage { return &AES{} })
	r.MustRegister("sha", func() stage.Stage { return &SHA{} })
	r.MustRegister("regex", func() stage.Stage { return &Regex{} })
	r.MustRegister("compress", func() stage.Stage { return &Compress{} })
	r.MustRegister("reorder", func() stage.Stage { return &Reorder{} })
	for name, chain := range apps {
		r.MustRegister(name, stage.NewComposite(chain...))
	}
}

// Apps returns the sub-stage chain of each composite application.
func Apps() map[string][]string {
	out := make(map[string][]string, len(apps))
	for k, v := range apps {
		out[k] = append([]string(nil), v...)
	}
	return out
}
