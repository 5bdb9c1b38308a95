package storage

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"

	"github.com/dyike/TradingAgentsGo/models"
)

type pdfExporter struct{}

func (pdfExporter) Format() string    { return FormatPDF }
func (pdfExporter) Extension() string { return ".pdf" }

func (pdfExporter) Export(b *models.ReportBundle) ([]byte, error) {
	return MarkdownToPDF(RenderMarkdown(b), b.Ticker+" "+b.AnalysisDate)
}

// MarkdownToPDF lays out Markdown with the core Arial font. Characters
// outside cp1252 are replaced.
func MarkdownToPDF(markdown, title string) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(title, true)
	pdf.SetMargins(12, 12, 12)
	pdf.SetAutoPageBreak(true, 12)
	pdf.AddPage()
	pdf.SetFont("Arial", "", 10)

	md := goldmark.New(goldmark.WithExtensions(extension.Table))
	source := []byte(markdown)
	doc := md.Parser().Parse(text.NewReader(source))

	r := &pdfRenderer{
		pdf:    pdf,
		source: source,
		tr:     pdf.UnicodeTranslatorFromDescriptor(""),
		size:   10,
	}
	if err := ast.Walk(doc, r.walk); err != nil {
		return nil, fmt.Errorf("layout pdf: %w", err)
	}
	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("layout pdf: %w", err)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	return buf.Bytes(), nil
}

type pdfRenderer struct {
	pdf    *fpdf.Fpdf
	source []byte
	tr     func(string) string
	size   float64
	bold   bool
	italic bool
	cells  []string
}

func (r *pdfRenderer) updateFont() {
	style := ""
	if r.bold {
		style += "B"
	}
	if r.italic {
		style += "I"
	}
	r.pdf.SetFont("Arial", style, r.size)
}

func (r *pdfRenderer) write(s string) {
	r.pdf.Write(5, r.tr(s))
}

func (r *pdfRenderer) walk(n ast.Node, entering bool) (ast.WalkStatus, error) {
	switch node := n.(type) {
	case *ast.Heading:
		if entering {
			r.pdf.Ln(4)
			r.size = map[int]float64{1: 16, 2: 13, 3: 11}[node.Level]
			if r.size == 0 {
				r.size = 10
			}
			r.bold = true
		} else {
			r.pdf.Ln(7)
			r.size, r.bold = 10, false
		}
		r.updateFont()
	case *ast.Paragraph:
		if !entering {
			r.pdf.Ln(6)
		}
	case *ast.Text:
		if entering {
			if r.cells != nil {
				r.cells[len(r.cells)-1] += string(node.Segment.Value(r.source))
				return ast.WalkContinue, nil
			}
			r.write(string(node.Segment.Value(r.source)))
			if node.SoftLineBreak() {
				r.write(" ")
			}
			if node.HardLineBreak() {
				r.pdf.Ln(5)
			}
		}
	case *ast.Emphasis:
		if node.Level == 2 {
			r.bold = entering
		} else {
			r.italic = entering
		}
		r.updateFont()
	case *ast.CodeSpan:
		if entering {
			r.pdf.SetFont("Courier", "", r.size)
		} else {
			r.updateFont()
		}
	case *ast.FencedCodeBlock, *ast.CodeBlock:
		if entering {
			r.pdf.SetFont("Courier", "", 9)
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				r.pdf.MultiCell(0, 4.5, r.tr(strings.TrimRight(string(seg.Value(r.source)), "\n")), "", "L", false)
			}
			r.updateFont()
			r.pdf.Ln(3)
			return ast.WalkSkipChildren, nil
		}
	case *ast.ListItem:
		if entering {
			r.pdf.SetX(r.pdf.GetX() + 4)
			r.write("- ")
		}
	case *ast.List:
		if !entering {
			r.pdf.Ln(2)
		}
	case *ast.TextBlock:
		if !entering {
			r.pdf.Ln(5)
		}
	case *ast.ThematicBreak:
		if entering {
			y := r.pdf.GetY() + 2
			r.pdf.Line(12, y, 198, y)
			r.pdf.Ln(4)
		}
	case *extast.TableRow, *extast.TableHeader:
		if entering {
			r.cells = []string{}
		} else {
			r.writeRow()
		}
	case *extast.TableCell:
		if entering && r.cells != nil {
			r.cells = append(r.cells, "")
		}
	}
	return ast.WalkContinue, nil
}

func (r *pdfRenderer) writeRow() {
	if len(r.cells) == 0 {
		r.cells = nil
		return
	}
	w := 186 / float64(len(r.cells))
	for _, c := range r.cells {
		r.pdf.CellFormat(w, 6, r.tr(c), "1", 0, "L", false, 0, "")
	}
	r.pdf.Ln(6)
	r.cells = nil
}
