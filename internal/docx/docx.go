// Package docx writes minimal WordprocessingML documents: headings and
// paragraphs, no images or styles beyond the built-in heading names.
package docx

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Kind is a block type.
type Kind int

const (
	Paragraph Kind = iota
	Heading1
	Heading2
	Heading3
	Bullet
)

// Block is one paragraph-level element.
type Block struct {
	Kind Kind
	Text string
}

// Document is an ordered list of blocks.
type Document struct {
	Title  string
	Blocks []Block
}

// Heading appends a heading of the given level (1-3).
func (d *Document) Heading(level int, text string) {
	k := Heading1
	switch {
	case level == 2:
		k = Heading2
	case level >= 3:
		k = Heading3
	}
	d.Blocks = append(d.Blocks, Block{Kind: k, Text: text})
}

// Para appends a paragraph. Embedded newlines become separate paragraphs.
func (d *Document) Para(text string) {
	for _, line := range strings.Split(text, "\n") {
		d.Blocks = append(d.Blocks, Block{Kind: Paragraph, Text: line})
	}
}

// FromMarkdown maps a small markdown subset onto blocks: ATX headings,
// "-" and "*" bullets, everything else as paragraphs. Emphasis markers are
// stripped.
func FromMarkdown(title, md string) Document {
	doc := Document{Title: title}
	for _, line := range strings.Split(strings.ReplaceAll(md, "\r\n", "\n"), "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			continue
		case strings.HasPrefix(trimmed, "#"):
			level := len(trimmed) - len(strings.TrimLeft(trimmed, "#"))
			doc.Heading(level, stripInline(strings.TrimSpace(trimmed[level:])))
		case strings.HasPrefix(trimmed, "- "), strings.HasPrefix(trimmed, "* "):
			doc.Blocks = append(doc.Blocks, Block{Kind: Bullet, Text: stripInline(trimmed[2:])})
		default:
			doc.Blocks = append(doc.Blocks, Block{Kind: Paragraph, Text: stripInline(trimmed)})
		}
	}
	return doc
}

func stripInline(s string) string {
	return strings.NewReplacer("**", "", "__", "", "`", "").Replace(s)
}

// WriteFile writes doc to path atomically.
func WriteFile(path string, doc Document) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*.docx")
	if err != nil {
		return fmt.Errorf("create docx: %w", err)
	}
	if err := Write(tmp, doc); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close docx: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename docx: %w", err)
	}
	return nil
}

// Write encodes doc as a .docx package.
func Write(w io.Writer, doc Document) error {
	zw := zip.NewWriter(w)
	parts := []struct{ name, body string }{
		{"[Content_Types].xml", contentTypes},
		{"_rels/.rels", rootRels},
		{"docProps/core.xml", coreProps(doc.Title)},
		{"word/styles.xml", styles},
		{"word/document.xml", documentXML(doc)},
	}
	for _, p := range parts {
		fw, err := zw.Create(p.name)
		if err != nil {
			return fmt.Errorf("docx part %s: %w", p.name, err)
		}
		if _, err := io.WriteString(fw, p.body); err != nil {
			return fmt.Errorf("docx part %s: %w", p.name, err)
		}
	}
	return zw.Close()
}

func documentXML(doc Document) string {
	var b strings.Builder
	b.WriteString(xml.Header)
	b.WriteString(`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`)
	if doc.Title != "" {
		writePara(&b, "Title", doc.Title)
	}
	for _, blk := range doc.Blocks {
		switch blk.Kind {
		case Heading1:
			writePara(&b, "Heading1", blk.Text)
		case Heading2:
			writePara(&b, "Heading2", blk.Text)
		case Heading3:
			writePara(&b, "Heading3", blk.Text)
		case Bullet:
			writePara(&b, "", "• "+blk.Text)
		default:
			writePara(&b, "", blk.Text)
		}
	}
	b.WriteString(`<w:sectPr/></w:body></w:document>`)
	return b.String()
}

func writePara(b *strings.Builder, style, text string) {
	b.WriteString("<w:p>")
	if style != "" {
		fmt.Fprintf(b, `<w:pPr><w:pStyle w:val="%s"/></w:pPr>`, style)
	}
	b.WriteString(`<w:r><w:t xml:space="preserve">`)
	_ = xml.EscapeText(b, []byte(sanitizeXML(text)))
	b.WriteString("</w:t></w:r></w:p>")
}

// sanitizeXML drops runes that are illegal in XML 1.0.
func sanitizeXML(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\t', r == '\n', r == '\r':
			return r
		case r < 0x20, r == 0xFFFE, r == 0xFFFF:
			return -1
		}
		return r
	}, s)
}

func coreProps(title string) string {
	var t strings.Builder
	_ = xml.EscapeText(&t, []byte(sanitizeXML(title)))
	return xml.Header + `<cp:coreProperties xmlns:cp="http://schemas.openxmlformats.org/package/2006/metadata/core-properties" xmlns:dc="http://purl.org/dc/elements/1.1/"><dc:title>` + t.String() + `</dc:title></cp:coreProperties>`
}

const contentTypes = xml.Header + `<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">` +
	`<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>` +
	`<Default Extension="xml" ContentType="application/xml"/>` +
	`<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>` +
	`<Override PartName="/word/styles.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.styles+xml"/>` +
	`<Override PartName="/docProps/core.xml" ContentType="application/vnd.openxmlformats-package.core-properties+xml"/>` +
	`</Types>`

const rootRels = xml.Header + `<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">` +
	`<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/>` +
	`<Relationship Id="rId2" Type="http://schemas.openxmlformats.org/package/2006/relationships/metadata/core-properties" Target="docProps/core.xml"/>` +
	`</Relationships>`

const styles = xml.Header + `<w:styles xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">` +
	`<w:style w:type="paragraph" w:default="1" w:styleId="Normal"><w:name w:val="Normal"/></w:style>` +
	`<w:style w:type="paragraph" w:styleId="Title"><w:name w:val="Title"/><w:rPr><w:b/><w:sz w:val="40"/></w:rPr></w:style>` +
	`<w:style w:type="paragraph" w:styleId="Heading1"><w:name w:val="heading 1"/><w:rPr><w:b/><w:sz w:val="32"/></w:rPr></w:style>` +
	`<w:style w:type="paragraph" w:styleId="Heading2"><w:name w:val="heading 2"/><w:rPr><w:b/><w:sz w:val="28"/></w:rPr></w:style>` +
	`<w:style w:type="paragraph" w:styleId="Heading3"><w:name w:val="heading 3"/><w:rPr><w:b/><w:sz w:val="24"/></w:rPr></w:style>` +
	`</w:styles>`
