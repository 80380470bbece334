// File: stages/http.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package stages

import (
	"bufio"
	"bytes"
	"io"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/momentics/hioload-nf/api"
	"github.com/momentics/hioload-nf/internal/pkt"
	"github.com/momentics/hioload-nf/stage"
	"github.com/momentics/hioload-nf/stats"
)

// HTTPParser parses the application payload of each packet as an HTTP/1.x
// request and classifies request bodies by content type. Parse failures
// are counted; every packet is forwarded.
type HTTPParser struct {
	env    *stage.Env
	parser *pkt.Parser
	src    bytes.Reader
	br     *bufio.Reader
	body   []byte

	requests *stats.Counter
	errors   *stats.Counter
	empty    *stats.Counter
	classes  map[string]*stats.Counter
}

var _ stage.Stage = (*HTTPParser)(nil)

func (h *HTTPParser) Init(env *stage.Env) error {
	h.env = env
	h.parser = pkt.NewParser()
	h.br = bufio.NewReaderSize(&h.src, 4096)
	h.body = make([]byte, 512)
	st := env.Stats()
	h.requests = st.Counter("http_parser.requests")
	h.errors = st.Counter("http_parser.errors")
	h.empty = st.Counter("http_parser.empty")
	h.classes = make(map[string]*stats.Counter)
	return nil
}

func (h *HTTPParser) Exec(in []api.Buffer) []api.Buffer {
	for _, b := range in {
		payload, _ := h.parser.Payload(b.Bytes())
		if len(payload) == 0 {
			h.empty.Inc()
			continue
		}
		h.parse(payload)
	}
	return in
}

func (h *HTTPParser) parse(payload []byte) {
	h.src.Reset(payload)
	h.br.Reset(&h.src)
	req, err := http.ReadRequest(h.br)
	if err != nil {
		h.errors.Inc()
		if ce := h.env.Log().Check(zap.DebugLevel, "http request parse failed"); ce != nil {
			ce.Write(zap.Error(err))
		}
		return
	}
	h.requests.Inc()
	if req.Body == nil || req.Body == http.NoBody {
		return
	}
	n, _ := io.ReadFull(req.Body, h.body)
	req.Body.Close()
	if n == 0 {
		return
	}
	h.class(mimetype.Detect(h.body[:n]).String()).Inc()
}

func (h *HTTPParser) class(mime string) *stats.Counter {
	if c, ok := h.classes[mime]; ok {
		return c
	}
	base, _, _ := strings.Cut(mime, ";")
	c := h.env.Stats().Counter("http_parser.body." + base)
	h.classes[mime] = c
	return c
}

func (h *HTTPParser) Free() error {
	h.classes = nil
	return nil
}
