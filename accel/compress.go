// File: accel/compress.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package accel

import (
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/flate"
	"github.com/pierrec/lz4/v4"
	"go.uber.org/zap"

	"github.com/momentics/hioload-nf/api"
)

// CompressConfig selects the compression engine codec.
type CompressConfig struct {
	Algorithm string `yaml:"algorithm" toml:"algorithm" envconfig:"ALGORITHM"` // "deflate" or "lz4"
	Level     int    `yaml:"level" toml:"level" envconfig:"LEVEL"`             // deflate level, 0 means default
}

// CompressParams narrows an operation to part of the source buffer.
type CompressParams struct {
	Offset int // first payload byte
}

var errShortBuffer = errors.New("output does not fit scratch buffer")

// sliceWriter writes into a fixed byte slice.
type sliceWriter struct {
	buf []byte
	n   int
}

func (w *sliceWriter) Write(p []byte) (int, error) {
	if w.n+len(p) > len(w.buf) {
		w.n += copy(w.buf[w.n:], p)
		return 0, errShortBuffer
	}
	w.n += copy(w.buf[w.n:], p)
	return len(p), nil
}

// NewCompressProcessor returns a Processor compressing op.Src (from the
// CompressParams offset) into op.Dst's full capacity.
func NewCompressProcessor(cfg CompressConfig) (Processor, error) {
	switch cfg.Algorithm {
	case "", "deflate":
		level := cfg.Level
		if level == 0 {
			level = flate.DefaultCompression
		}
		if _, err := flate.NewWriter(nil, level); err != nil {
			return nil, api.ConfigError("compress: level %d", cfg.Level).Wrap(err)
		}
		writers := sync.Pool{New: func() any {
			w, _ := flate.NewWriter(nil, level)
			return w
		}}
		return func(op *api.Op) {
			src, dst, ok := compressIO(op)
			if !ok {
				return
			}
			sw := &sliceWriter{buf: dst}
			fw := writers.Get().(*flate.Writer)
			fw.Reset(sw)
			_, err := fw.Write(src)
			if err == nil {
				err = fw.Close()
			}
			writers.Put(fw)
			finishCompress(op, sw.n, err)
		}, nil
	case "lz4":
		return func(op *api.Op) {
			src, dst, ok := compressIO(op)
			if !ok {
				return
			}
			n, err := lz4.CompressBlock(src, dst, nil)
			if err == nil && n == 0 && len(src) > 0 {
				// incompressible into the available scratch space
				err = errShortBuffer
			}
			finishCompress(op, n, err)
		}, nil
	default:
		return nil, api.ConfigError("compress: unknown algorithm %q", cfg.Algorithm)
	}
}

func compressIO(op *api.Op) (src, dst []byte, ok bool) {
	if op.Src == nil || op.Dst == nil || op.Dst == op.Src {
		op.Status = api.OpMalformed
		return nil, nil, false
	}
	src = op.Src.Bytes()
	if p, isParams := op.Params.(CompressParams); isParams {
		if p.Offset < 0 || p.Offset > len(src) {
			op.Status = api.OpMalformed
			return nil, nil, false
		}
		src = src[p.Offset:]
	}
	op.Dst.SetLen(op.Dst.Cap())
	return src, op.Dst.Bytes(), true
}

func finishCompress(op *api.Op, n int, err error) {
	switch {
	case errors.Is(err, errShortBuffer):
		op.Status = api.OpResourceLimit
		op.Dst.SetLen(0)
	case err != nil:
		op.Status = api.OpFailed
		op.Dst.SetLen(0)
	default:
		op.Status = api.OpSuccess
		op.Produced = n
		op.Dst.SetLen(n)
	}
}

// NewCompressEngine starts a compression engine.
func NewCompressEngine(workers, depth int, cfg CompressConfig, log *zap.Logger) (*Engine, error) {
	proc, err := NewCompressProcessor(cfg)
	if err != nil {
		return nil, fmt.Errorf("compress engine: %w", err)
	}
	return NewEngine("compress", workers, depth, proc, log), nil
}
