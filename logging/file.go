// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package logging provides log file handling and line formatters for data
// units and congestion feedback.
package logging

import (
	"bufio"
	"errors"
	"io"
	"os"
)

// GetLogFile returns a writer for file. An empty name discards everything,
// "stdout" writes to standard output and any other name creates a buffered
// file.
func GetLogFile(file string) (io.WriteCloser, error) {
	if len(file) == 0 {
		return nopCloser{io.Discard}, nil
	}
	if file == "stdout" {
		return nopCloser{os.Stdout}, nil
	}
	fd, err := os.Create(file) //nolint:gosec
	if err != nil {
		return nil, err
	}

	return &fileCloser{
		f:   fd,
		buf: bufio.NewWriterSize(fd, 4096),
	}, nil
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

type fileCloser struct {
	f   *os.File
	buf *bufio.Writer
}

func (f *fileCloser) Write(buf []byte) (int, error) {
	return f.buf.Write(buf)
}

// Close flushes the buffer and always closes the file.
func (f *fileCloser) Close() error {
	return errors.Join(f.buf.Flush(), f.f.Close())
}
