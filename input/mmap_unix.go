//go:build unix

// File: input/mmap_unix.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package input

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-nf/api"
)

// mapFile maps path read-only.
func mapFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, api.ConfigError("input remote_mmap: descriptor").WithContext("path", path).Wrap(err)
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("input remote_mmap: stat %s: %w", path, err)
	}
	if fi.Size() == 0 {
		return nil, api.ConfigError("input remote_mmap: empty descriptor").WithContext("path", path)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(fi.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, api.NewError(api.ErrCodeResourceExhausted, "input remote_mmap: mmap").WithContext("path", path).Wrap(err)
	}
	return data, nil
}

func unmapFile(data []byte) error {
	return unix.Munmap(data)
}
