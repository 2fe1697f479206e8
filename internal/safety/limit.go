package safety

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrLineTooLong indicates a line exceeded the configured read limit.
var ErrLineTooLong = errors.New("line too long")

// ReadLineWithLimit reads the first line from r, without its terminator, and
// fails if the line is longer than limit bytes. A reader that ends before a
// newline returns what it read.
func ReadLineWithLimit(r io.Reader, limit int64) (string, error) {
	if limit <= 0 {
		return "", fmt.Errorf("invalid read limit: %d", limit)
	}
	br := bufio.NewReader(io.LimitReader(r, limit+1))
	line, err := br.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if int64(len(line)) > limit {
		return "", ErrLineTooLong
	}
	if line == "" && err == io.EOF {
		return "", io.ErrUnexpectedEOF
	}
	return line, nil
}
