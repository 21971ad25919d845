package service

import (
	"io"
	"os"
)

type fileBody interface {
	io.Reader
	io.Closer
}

func openFile(path string) (fileBody, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, info.Size(), nil
}
