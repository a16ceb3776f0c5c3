package e2e

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
)

// WriteMinimalFile returns a minimal file of the given extension. Documents carry
// text in their body; images encode text as pixel colours so that different
// text gives different bytes.
func WriteMinimalFile(ext, text string) ([]byte, error) {
	switch ext {
	case ".docx":
		return minimalDocx(text), nil
	case ".png", ".jpg", ".jpeg":
		return minimalImage(ext, text)
	case ".txt":
		return []byte(text), nil
	default:
		return nil, fmt.Errorf("no fixture for %s", ext)
	}
}

func minimalDocx(text string) []byte {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	ct, _ := w.Create("[Content_Types].xml")
	_, _ = ct.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types"><Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/></Types>`))
	fw, _ := w.Create("word/document.xml")
	_, _ = fw.Write([]byte(`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body><w:p><w:r><w:t>` + text + `</w:t></w:r></w:p></w:body></w:document>`))
	_ = w.Close()
	return buf.Bytes()
}

func minimalImage(ext, text string) ([]byte, error) {
	sum := sha256.Sum256([]byte(text))
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for i := 0; i+2 < len(sum); i += 3 {
		x, y := (i/3)%8, (i/3)/8
		img.Set(x, y, color.RGBA{R: sum[i], G: sum[i+1], B: sum[i+2], A: 255})
	}
	var buf bytes.Buffer
	var err error
	if ext == ".png" {
		err = png.Encode(&buf, img)
	} else {
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90})
	}
	return buf.Bytes(), err
}
