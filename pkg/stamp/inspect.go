package stamp

import (
	"bytes"
	"fmt"

	"github.com/dslipak/pdf"
)

// Inspect parses a PDF and reports its page count, for validating a
// requested signature position against the real document.
func Inspect(data []byte) (pages int, err error) {
	// the parser panics on some malformed files
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stamp: failed to parse pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("stamp: failed to parse pdf: %w", err)
	}
	return reader.NumPage(), nil
}
