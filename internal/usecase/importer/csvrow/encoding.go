package csvrow

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"caseimport/internal/domain/importing"
)

// CheckEncoding scans r and fails with ErrMalformedEncoding on the first
// invalid UTF-8 sequence. Run it before parsing so a bad file is rejected
// before any row is counted.
func CheckEncoding(r io.Reader) error {
	br := bufio.NewReaderSize(r, 64*1024)
	var offset int64
	for {
		ch, size, err := br.ReadRune()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: read file: %w", importing.ErrFileFatal, err)
		}
		if ch == utf8.RuneError && size == 1 {
			return fmt.Errorf("%w: %w: invalid UTF-8 at byte %d", importing.ErrFileFatal, importing.ErrMalformedEncoding, offset)
		}
		offset += int64(size)
	}
}

func stripUTF8BOM(r *bufio.Reader) *bufio.Reader {
	b, err := r.Peek(3)
	if err == nil && len(b) == 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		_, _ = r.Discard(3)
	}
	return r
}
