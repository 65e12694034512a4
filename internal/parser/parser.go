package parser

import (
	"bytes"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"

	"document-chat/internal/models"
)

var docxTokenRe = regexp.MustCompile(`<w:t(?:\s[^>]*)?>([^<]*)</w:t>|</w:p>|<w:tab/>|<w:br/>`)

// ReadDocuments loads files from disk in the given order.
func ReadDocuments(paths []string) ([]models.Document, error) {
	docs := make([]models.Document, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", p, err)
		}
		docs = append(docs, models.Document{Name: p, Data: data})
	}
	return docs, nil
}

// ExtractText concatenates the text of all docs, in document order then page
// order. No separator is inserted between documents or pages.
func ExtractText(docs []models.Document) (string, error) {
	var text strings.Builder
	for _, doc := range docs {
		if err := extractInto(&text, doc); err != nil {
			return "", fmt.Errorf("failed to extract %s: %w", doc.Name, err)
		}
	}
	log.Debug().Int("documents", len(docs)).Int("chars", text.Len()).Msg("Extracted text")
	return text.String(), nil
}

func extractInto(w *strings.Builder, doc models.Document) error {
	ext := strings.ToLower(filepath.Ext(doc.Name))
	switch ext {
	case ".pdf", "":
		return extractPDF(w, doc.Data)
	case ".docx":
		return extractDOCX(w, doc.Data)
	case ".xlsx":
		return extractXLSX(w, doc.Data)
	case ".txt", ".md":
		w.Write(doc.Data)
		return nil
	default:
		return fmt.Errorf("unsupported file format: %s", ext)
	}
}

func extractPDF(w *strings.Builder, data []byte) (err error) {
	// the pdf reader panics on some malformed object streams
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return err
	}

	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return fmt.Errorf("page %d: %w", i, err)
		}
		w.WriteString(pageText)
	}
	return nil
}

func extractDOCX(w *strings.Builder, data []byte) error {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return err
	}
	defer r.Close()

	w.WriteString(textFromDocxXML(r.Editable().GetContent()))
	return nil
}

// textFromDocxXML keeps run text and turns paragraph ends into newlines
func textFromDocxXML(xmlContent string) string {
	var text strings.Builder
	for _, m := range docxTokenRe.FindAllStringSubmatch(xmlContent, -1) {
		switch m[0] {
		case "</w:p>", "<w:br/>":
			text.WriteString("\n")
		case "<w:tab/>":
			text.WriteString("\t")
		default:
			text.WriteString(html.UnescapeString(m[1]))
		}
	}
	return text.String()
}

func extractXLSX(w *strings.Builder, data []byte) error {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer f.Close()

	for _, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			return fmt.Errorf("sheet %s: %w", sheetName, err)
		}
		fmt.Fprintf(w, "## Sheet: %s\n", sheetName)
		for _, row := range rows {
			w.WriteString(strings.Join(row, "\t"))
			w.WriteString("\n")
		}
	}
	return nil
}
