package extract

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
)

// expectedMIME is the content type each known extension must sniff as.
var expectedMIME = map[string]string{
	".pdf":  "application/pdf",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".odt":  "application/vnd.oasis.opendocument.text",
	".rtf":  "text/rtf",
	".txt":  "text/plain",
}

// zipBased extensions are containers; a bare zip signature is accepted for them.
var zipBased = map[string]bool{".docx": true, ".odt": true}

// FileInfo describes an accepted upload.
type FileInfo struct {
	Name     string `json:"name"`
	Ext      string `json:"ext"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

// IsImage reports whether the upload is an image.
func (f *FileInfo) IsImage() bool {
	return strings.HasPrefix(f.MimeType, "image/")
}

// Policy decides which uploads are accepted.
type Policy struct {
	extensions map[string]bool
	maxBytes   int64
}

// NewPolicy returns a policy for the given extensions (with or without the
// leading dot) and size limit. maxBytes <= 0 disables the size check.
func NewPolicy(extensions []string, maxBytes int64) *Policy {
	p := &Policy{extensions: make(map[string]bool, len(extensions)), maxBytes: maxBytes}
	for _, e := range extensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		p.extensions[e] = true
	}
	return p
}

// MaxBytes returns the size limit.
func (p *Policy) MaxBytes() int64 {
	return p.maxBytes
}

// Extensions returns the accepted extensions in sorted order.
func (p *Policy) Extensions() []string {
	out := make([]string, 0, len(p.extensions))
	for e := range p.extensions {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

// Allows reports whether name has an accepted extension.
func (p *Policy) Allows(name string) bool {
	return p.extensions[Ext(name)]
}

// Check validates name and size without looking at the content.
func (p *Policy) Check(name string, size int64) error {
	if !p.Allows(name) {
		return fmt.Errorf("%w: %q", ErrUnsupportedType, Ext(name))
	}
	if size == 0 {
		return ErrEmptyFile
	}
	if p.maxBytes > 0 && size > p.maxBytes {
		return fmt.Errorf("%w: %s exceeds the %s limit", ErrTooLarge,
			humanize.IBytes(uint64(size)), humanize.IBytes(uint64(p.maxBytes)))
	}
	return nil
}

// Inspect validates name and content and sniffs the content type. Content of a
// known extension must sniff as that type.
func (p *Policy) Inspect(name string, content []byte) (*FileInfo, error) {
	if err := p.Check(name, int64(len(content))); err != nil {
		return nil, err
	}
	ext := Ext(name)
	detected := mimetype.Detect(content)
	if want, ok := expectedMIME[ext]; ok && !sniffMatches(detected, want, zipBased[ext]) {
		return nil, fmt.Errorf("%w: %s sniffed as %s", ErrTypeMismatch, ext, detected.String())
	}
	mimeType := detected.String()
	if want, ok := expectedMIME[ext]; ok {
		mimeType = want
	}
	return &FileInfo{
		Name:     name,
		Ext:      ext,
		MimeType: mimeType,
		Size:     int64(len(content)),
	}, nil
}

func sniffMatches(detected *mimetype.MIME, want string, allowZip bool) bool {
	for m := detected; m != nil; m = m.Parent() {
		if m.Is(want) {
			return true
		}
		if allowZip && m.Is("application/zip") {
			return true
		}
	}
	return false
}
