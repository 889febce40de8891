package files

import (
	"bytes"

	pdf "rsc.io/pdf"
)

// PDFInfo summarizes an uploaded PDF attachment.
type PDFInfo struct {
	Pages int
	Text  string
}

// InspectPDF opens a PDF at filePath and returns its page count plus
// extracted text up to maxChars. Some PDFs have no text layer; those come
// back with empty text rather than an error. If maxChars <= 0 a default
// that avoids blowing the model context is used.
func InspectPDF(filePath string, maxChars int) (*PDFInfo, error) {
	if maxChars <= 0 {
		maxChars = 12000 // ~2-3k tokens
	}

	r, err := pdf.Open(filePath)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	total := r.NumPage()
	for pageIndex := 1; pageIndex <= total; pageIndex++ {
		p := r.Page(pageIndex)
		if p.V.IsNull() {
			continue
		}
		for _, t := range p.Content().Text {
			buf.WriteString(t.S)
		}
		buf.WriteString("\n\n")
		if buf.Len() >= maxChars {
			break
		}
	}

	text := buf.String()
	if len(text) > maxChars {
		text = text[:maxChars]
	}
	return &PDFInfo{Pages: total, Text: text}, nil
}
