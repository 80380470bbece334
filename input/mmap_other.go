//go:build !unix

// File: input/mmap_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package input

import "github.com/momentics/hioload-nf/api"

func mapFile(path string) ([]byte, error) {
	return nil, api.NewError(api.ErrCodeNotSupported, "input remote_mmap: mmap unavailable").WithContext("path", path)
}

func unmapFile([]byte) error { return nil }
