// File: stages/crypto.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Software cipher and digest stages used by the IPsec gateway chain. Only
// the cryptographic work is performed; packets are forwarded unchanged.

package stages

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"hash"

	"golang.org/x/crypto/blake2b"

	"github.com/momentics/hioload-nf/api"
	"github.com/momentics/hioload-nf/stage"
	"github.com/momentics/hioload-nf/stats"
)

const (
	defaultAESKey = "2b7e151628aed2a6abf7158809cf4f3c"
	defaultAESIV  = "000102030405060708090a0b0c0d0e0f"
)

// AES encrypts each packet with AES-128-CBC into a per-instance scratch
// area. The last partial block is zero padded.
type AES struct {
	block   cipher.Block
	iv      []byte
	scratch []byte

	blocks *stats.Counter
}

var _ stage.Stage = (*AES)(nil)

func (a *AES) Init(env *stage.Env) error {
	key, err := hex.DecodeString(env.Param("key", defaultAESKey))
	if err != nil {
		return api.ConfigError("aes: key is not hex").WithContext("stage", env.Type).Wrap(err)
	}
	a.iv, err = hex.DecodeString(env.Param("iv", defaultAESIV))
	if err != nil || len(a.iv) != aes.BlockSize {
		return api.ConfigError("aes: iv must be %d hex bytes", aes.BlockSize).WithContext("stage", env.Type)
	}
	if a.block, err = aes.NewCipher(key); err != nil {
		return api.ConfigError("aes: key").WithContext("stage", env.Type).Wrap(err)
	}
	a.scratch = make([]byte, 2048)
	a.blocks = env.Stats().Counter("aes.blocks")
	return nil
}

func (a *AES) Exec(in []api.Buffer) []api.Buffer {
	for _, b := range in {
		a.encrypt(b.Bytes())
	}
	return in
}

// encrypt writes the ciphertext of p to the scratch area and returns it.
func (a *AES) encrypt(p []byte) []byte {
	n := (len(p) + aes.BlockSize - 1) / aes.BlockSize * aes.BlockSize
	if n == 0 {
		return nil
	}
	if n > len(a.scratch) {
		a.scratch = make([]byte, n)
	}
	dst := a.scratch[:n]
	copy(dst, p)
	clear(dst[len(p):])
	cipher.NewCBCEncrypter(a.block, a.iv).CryptBlocks(dst, dst)
	a.blocks.Add(uint64(n / aes.BlockSize))
	return dst
}

func (a *AES) Free() error {
	a.scratch = nil
	return nil
}

// SHA digests each packet. The algorithm parameter selects sha1 (default),
// sha256 or blake2b.
type SHA struct {
	h   hash.Hash
	sum []byte

	digests *stats.Counter
}

var _ stage.Stage = (*SHA)(nil)

func (s *SHA) Init(env *stage.Env) error {
	switch alg := env.Param("algorithm", "sha1"); alg {
	case "sha1":
		s.h = sha1.New()
	case "sha256":
		s.h = sha256.New()
	case "blake2b":
		h, err := blake2b.New256(nil)
		if err != nil {
			return err
		}
		s.h = h
	default:
		return api.ConfigError("sha: unknown algorithm %q", alg).WithContext("stage", env.Type)
	}
	s.sum = make([]byte, 0, s.h.Size())
	s.digests = env.Stats().Counter("sha.digests")
	return nil
}

func (s *SHA) Exec(in []api.Buffer) []api.Buffer {
	for _, b := range in {
		s.digest(b.Bytes())
	}
	return in
}

func (s *SHA) digest(p []byte) []byte {
	s.h.Reset()
	s.h.Write(p)
	s.sum = s.h.Sum(s.sum[:0])
	s.digests.Inc()
	return s.sum
}

func (s *SHA) Free() error { return nil }
