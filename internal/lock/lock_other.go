//go:build !unix

package lock

import (
	"errors"
	"fmt"
	"os"
	"strconv"
)

func acquire(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, path)
		}
		return nil, err
	}
	_, _ = f.WriteString(strconv.Itoa(os.Getpid()) + "\n")
	return f, nil
}

func release(path string, f *os.File) error {
	cerr := f.Close()
	rerr := os.Remove(path)
	return errors.Join(cerr, rerr)
}
