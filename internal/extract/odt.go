package extract

import (
	"fmt"
	"strings"

	"github.com/lu4p/cat"
)

// extractODT extracts text from OpenDocument text and RTF files.
func extractODT(content []byte) (string, error) {
	text, err := cat.FromBytes(content)
	if err != nil {
		return "", fmt.Errorf("extract document: %w", err)
	}
	return strings.TrimSpace(text), nil
}
