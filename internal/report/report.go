// Package report renders stored interview transcripts as PDF documents.
package report

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/signintech/gopdf"

	"github.com/BTreeMap/SwasthPipe/internal/models"
)

const (
	fontFamily   = "report"
	margin       = 40.0
	contentWidth = 515.0 // A4 width minus margins
	pageBottom   = 800.0
)

// ErrNoFont is returned when no usable TTF font could be loaded.
var ErrNoFont = errors.New("no report font available")

// DefaultFontPaths are tried in order when no font path is configured.
var DefaultFontPaths = []string{
	"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/ttf-dejavu/DejaVuSans.ttf",
}

// Renderer writes transcript reports.
type Renderer struct {
	fontPaths []string
	now       func() time.Time
}

// NewRenderer creates a renderer using fontPath, or DefaultFontPaths when empty.
func NewRenderer(fontPath string) *Renderer {
	paths := DefaultFontPaths
	if fontPath != "" {
		paths = []string{fontPath}
	}
	return &Renderer{fontPaths: paths, now: time.Now}
}

// Render writes a PDF of the conversation's transcripts to w.
func (r *Renderer) Render(w io.Writer, conversationID string, transcripts []models.Transcript) error {
	pdf := &gopdf.GoPdf{}
	pdf.Start(gopdf.Config{PageSize: *gopdf.PageSizeA4})
	pdf.SetMargins(margin, margin, margin, margin)
	pdf.AddPage()

	if err := r.loadFont(pdf); err != nil {
		return err
	}

	p := &page{pdf: pdf}
	p.heading(18, "Health Risk Assessment Report")
	p.line(10, fmt.Sprintf("Conversation: %s", conversationID))
	p.line(10, fmt.Sprintf("Generated: %s", r.now().UTC().Format("2006-01-02 15:04 MST")))
	p.gap(15)

	for i, t := range transcripts {
		p.heading(13, fmt.Sprintf("Assessment %d (%s)", i+1, t.Timestamp.UTC().Format("2006-01-02 15:04")))
		p.heading(11, "Profile and context")
		p.paragraph(10, t.UserPrompt)
		p.heading(11, "Assessment")
		p.paragraph(10, t.AgentReply)
		p.gap(15)
	}
	if p.err != nil {
		return fmt.Errorf("failed to lay out report: %w", p.err)
	}

	if _, err := pdf.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write PDF: %w", err)
	}
	slog.Debug("Report rendered", "conversationID", conversationID, "transcripts", len(transcripts))
	return nil
}

func (r *Renderer) loadFont(pdf *gopdf.GoPdf) error {
	var lastErr error
	for _, path := range r.fontPaths {
		if err := pdf.AddTTFFont(fontFamily, path); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	slog.Error("Report font could not be loaded", "paths", r.fontPaths, "error", lastErr)
	return fmt.Errorf("%w: %v", ErrNoFont, lastErr)
}

// page tracks layout state and the first error, so callers can lay out
// a whole report and check once.
type page struct {
	pdf *gopdf.GoPdf
	err error
}

func (p *page) setFont(size float64) bool {
	if p.err != nil {
		return false
	}
	p.err = p.pdf.SetFont(fontFamily, "", size)
	return p.err == nil
}

func (p *page) ensureRoom(h float64) {
	if p.pdf.GetY()+h > pageBottom {
		p.pdf.AddPage()
	}
}

func (p *page) heading(size float64, s string) {
	p.line(size, s)
	p.gap(4)
}

func (p *page) line(size float64, s string) {
	if !p.setFont(size) {
		return
	}
	p.ensureRoom(size + 4)
	p.pdf.SetX(margin)
	if err := p.pdf.Cell(nil, printable(s)); err != nil {
		p.err = err
		return
	}
	p.pdf.Br(size + 4)
}

func (p *page) paragraph(size float64, s string) {
	if !p.setFont(size) {
		return
	}
	for _, raw := range strings.Split(printable(s), "\n") {
		if strings.TrimSpace(raw) == "" {
			p.gap(size / 2)
			continue
		}
		lines, err := p.pdf.SplitText(raw, contentWidth)
		if err != nil {
			p.err = err
			return
		}
		for _, l := range lines {
			p.line(size, l)
		}
	}
}

func (p *page) gap(h float64) {
	if p.err == nil {
		p.pdf.Br(h)
	}
}

// printable drops Markdown emphasis and symbols beyond the enclosed
// alphanumerics block (emoji, dingbats), which report fonts do not carry.
func printable(s string) string {
	s = strings.NewReplacer("*", "", "_", "").Replace(s)
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		if r > 0x24FF {
			return -1
		}
		return r
	}, s))
}
