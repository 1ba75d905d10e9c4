package parse

import (
	"log"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ErenYanic/SEC-SemanticSearch/internal/core"
)

// PathSeparator joins heading titles into a hierarchical segment path.
const PathSeparator = " > "

// Parser turns raw filing HTML into ordered content segments.
type Parser interface {
	Parse(html string, filing core.FilingID) ([]core.Segment, error)
}

// HTMLParser extracts text, small-text and table segments from filing
// HTML. Headings (h1-h6 plus the bold paragraphs EDGAR filings use for
// item headers) build the hierarchical path attached to each segment.
type HTMLParser struct {
	logger *log.Logger
}

func NewHTMLParser() *HTMLParser {
	return &HTMLParser{logger: log.New(log.Writer(), "[PARSE] ", log.LstdFlags)}
}

// boldHeadingLimit bounds how long a bold paragraph can be and still be
// treated as a section header rather than emphasized body text.
const boldHeadingLimit = 200

var fontSizeRe = regexp.MustCompile(`font-size:\s*([0-9.]+)\s*(pt|px)`)

type walkState struct {
	filing   core.FilingID
	path     []string
	boldAt   int // path level claimed by bold paragraph headers, 0 when none
	segments []core.Segment
}

func (w *walkState) currentPath() string {
	if len(w.path) == 0 {
		return "(root)"
	}
	return strings.Join(w.path, PathSeparator)
}

// setHeading truncates the path stack to level-1 entries and appends the
// new title, so an h2 closes every open h2..h6 scope.
func (w *walkState) setHeading(level int, title string) {
	if level-1 < len(w.path) {
		w.path = w.path[:level-1]
	}
	w.path = append(w.path, title)
}

func (w *walkState) emit(ct core.ContentType, content string) {
	content = strings.TrimSpace(content)
	if content == "" {
		return
	}
	w.segments = append(w.segments, core.Segment{
		Path:        w.currentPath(),
		ContentType: ct,
		Content:     content,
		Filing:      w.filing,
	})
}

// Parse extracts segments in document order.
func (p *HTMLParser) Parse(html string, filing core.FilingID) ([]core.Segment, error) {
	if strings.TrimSpace(html) == "" {
		return nil, core.E(core.KindParse, "empty HTML content")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, core.Wrap(core.KindParse, "parsing HTML", err)
	}

	st := &walkState{filing: filing}
	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}
	p.walk(body, st)

	if len(st.segments) == 0 {
		return nil, core.E(core.KindParse, "no segments extracted from HTML")
	}
	p.logger.Printf("extracted %d segments from %s", len(st.segments), filing)
	return st.segments, nil
}

func (p *HTMLParser) walk(sel *goquery.Selection, st *walkState) {
	sel.Children().Each(func(_ int, s *goquery.Selection) {
		name := goquery.NodeName(s)
		switch name {
		case "script", "style", "head", "noscript":
			return
		case "h1", "h2", "h3", "h4", "h5", "h6":
			title := collapseSpace(s.Text())
			if title != "" {
				level := int(name[1] - '0')
				st.setHeading(level, title)
				st.boldAt = 0
			}
			return
		case "table":
			st.emit(core.ContentTable, formatTable(s))
			return
		case "p":
			p.paragraph(s, st)
			return
		}
		if isLeafText(s) {
			p.paragraph(s, st)
			return
		}
		p.walk(s, st)
	})
}

// paragraph classifies a text block: bold short paragraphs extend the
// heading path, small-font text becomes textsmall, everything else text.
func (p *HTMLParser) paragraph(s *goquery.Selection, st *walkState) {
	text := collapseSpace(s.Text())
	if text == "" {
		return
	}
	if len(text) <= boldHeadingLimit && isBold(s) {
		// Bold item headers sit below any real h-tag hierarchy and
		// replace each other instead of nesting.
		if st.boldAt == 0 || st.boldAt > len(st.path)+1 {
			st.boldAt = len(st.path) + 1
		}
		st.setHeading(st.boldAt, text)
		return
	}
	if isSmallText(s) {
		st.emit(core.ContentTextSmall, text)
		return
	}
	st.emit(core.ContentText, text)
}

// isLeafText reports whether a container holds text but no block
// children worth descending into.
func isLeafText(s *goquery.Selection) bool {
	switch goquery.NodeName(s) {
	case "div", "span", "font", "td", "li", "small", "b", "strong":
	default:
		return false
	}
	if s.ChildrenFiltered("div, p, table, ul, ol, h1, h2, h3, h4, h5, h6").Length() > 0 {
		return false
	}
	return collapseSpace(s.Text()) != ""
}

func isBold(s *goquery.Selection) bool {
	name := goquery.NodeName(s)
	if name == "b" || name == "strong" {
		return true
	}
	if style, ok := s.Attr("style"); ok {
		style = strings.ToLower(style)
		if strings.Contains(style, "font-weight:bold") || strings.Contains(style, "font-weight: bold") ||
			strings.Contains(style, "font-weight:700") || strings.Contains(style, "font-weight: 700") {
			return true
		}
	}
	// A paragraph whose entire text sits in one bold child is a header.
	inner := s.ChildrenFiltered("b, strong")
	if inner.Length() == 1 && collapseSpace(inner.Text()) == collapseSpace(s.Text()) {
		return true
	}
	return false
}

func isSmallText(s *goquery.Selection) bool {
	if goquery.NodeName(s) == "small" || s.ChildrenFiltered("small").Length() > 0 {
		return true
	}
	if size, ok := s.Attr("size"); ok && (size == "1" || size == "2") {
		return true
	}
	if font := s.ChildrenFiltered("font"); font.Length() > 0 {
		if size, ok := font.Attr("size"); ok && (size == "1" || size == "2") {
			return true
		}
	}
	if style, ok := s.Attr("style"); ok {
		if m := fontSizeRe.FindStringSubmatch(strings.ToLower(style)); m != nil {
			size, err := strconv.ParseFloat(m[1], 64)
			if err == nil {
				if m[2] == "pt" && size < 9 {
					return true
				}
				if m[2] == "px" && size < 12 {
					return true
				}
			}
		}
	}
	return false
}

// formatTable renders a table as pipe-delimited rows, one line per row.
func formatTable(s *goquery.Selection) string {
	var rows []string
	s.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		var cells []string
		tr.Find("td, th").Each(func(_ int, cell *goquery.Selection) {
			cells = append(cells, collapseSpace(cell.Text()))
		})
		row := strings.TrimSpace(strings.Join(cells, " | "))
		if strings.Trim(row, " |") != "" {
			rows = append(rows, row)
		}
	})
	return strings.Join(rows, "\n")
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
