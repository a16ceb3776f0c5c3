package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"html"
	"io"
	"regexp"
	"strings"
)

const (
	docxDefaultPart  = "word/document.xml"
	contentTypesPart = "[Content_Types].xml"
	docxMainType     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
)

// maxZipEntryBytes caps how much of one archive entry is inflated.
const maxZipEntryBytes = 32 << 20

// wtTag matches <w:t>text</w:t> with any attributes.
var wtTag = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)

// mainPartRe finds the main document part in [Content_Types].xml; the two
// patterns cover both attribute orders.
var mainPartRe = []*regexp.Regexp{
	regexp.MustCompile(`<Override[^>]+PartName="([^"]+)"[^>]+ContentType="` + regexp.QuoteMeta(docxMainType) + `"`),
	regexp.MustCompile(`<Override[^>]+ContentType="` + regexp.QuoteMeta(docxMainType) + `"[^>]+PartName="([^"]+)"`),
}

// readZipEntry returns the inflated bytes of the named entry, or nil when the
// archive has no such entry.
func readZipEntry(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(io.LimitReader(rc, maxZipEntryBytes+1))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		if len(data) > maxZipEntryBytes {
			return nil, fmt.Errorf("%s: %w", name, ErrTooLarge)
		}
		return data, nil
	}
	return nil, nil
}

// docxMainPart returns the main document path declared in [Content_Types].xml,
// falling back to word/document.xml.
func docxMainPart(zr *zip.Reader) string {
	types, err := readZipEntry(zr, contentTypesPart)
	if err != nil || types == nil {
		return docxDefaultPart
	}
	for _, re := range mainPartRe {
		if m := re.FindSubmatch(types); len(m) > 1 {
			return strings.TrimPrefix(string(m[1]), "/")
		}
	}
	return docxDefaultPart
}

// extractDOCX extracts text from .docx bytes by collecting every <w:t> run of the
// main document part. lu4p/cat is not used here: it only matches <w:p> elements
// without attributes, which real documents rarely have.
func extractDOCX(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("extract DOCX: not a zip: %w", err)
	}
	part := docxMainPart(zr)
	docXML, err := readZipEntry(zr, part)
	if err != nil {
		return "", fmt.Errorf("extract DOCX: %w", err)
	}
	if docXML == nil {
		return "", fmt.Errorf("extract DOCX: %s not found", part)
	}
	runs := wtTag.FindAllSubmatch(docXML, -1)
	words := make([]string, 0, len(runs))
	for _, r := range runs {
		if w := strings.TrimSpace(html.UnescapeString(string(r[1]))); w != "" {
			words = append(words, w)
		}
	}
	return strings.Join(words, " "), nil
}
