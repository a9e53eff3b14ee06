package statute

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
)

// Category is the closed set of document hierarchies served by the API.
// Each variant knows how to render its own documents.
type Category interface {
	// ID is the API's hierarchyAliasId.
	ID() int
	// Name is the display name used in directory names.
	Name() string
	// Slug is the directory name used by the index and the archive.
	Slug() string
	// Render formats a document as readable text.
	Render(doc Document) string

	sealed()
}

// The three hierarchies.
var (
	LegalRegulation Category = legalRegulation{}
	RegulatoryRule  Category = regulatoryRule{}
	IndustryNews    Category = industryNews{}
)

// Categories returns every category in id order.
func Categories() []Category {
	return []Category{LegalRegulation, RegulatoryRule, IndustryNews}
}

// CategoryByID resolves a hierarchyAliasId.
func CategoryByID(id int) (Category, error) {
	for _, c := range Categories() {
		if c.ID() == id {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownCategory, id)
}

type legalRegulation struct{}

func (legalRegulation) ID() int      { return 1 }
func (legalRegulation) Name() string { return "法律法规" }
func (c legalRegulation) Slug() string {
	return slug(c)
}
func (legalRegulation) sealed() {}

// Render prints the title, publish date and document number.
func (legalRegulation) Render(doc Document) string {
	return renderArticle(doc, metaLine("文号", doc.ReferenceNo))
}

type regulatoryRule struct{}

func (regulatoryRule) ID() int      { return 2 }
func (regulatoryRule) Name() string { return "规章制度" }
func (c regulatoryRule) Slug() string {
	return slug(c)
}
func (regulatoryRule) sealed() {}

// Render prints the issuing body ahead of the document number.
func (regulatoryRule) Render(doc Document) string {
	return renderArticle(doc,
		metaLine("发布机构", doc.Organization),
		metaLine("文号", doc.ReferenceNo),
	)
}

type industryNews struct{}

func (industryNews) ID() int      { return 3 }
func (industryNews) Name() string { return "行业动态" }
func (c industryNews) Slug() string {
	return slug(c)
}
func (industryNews) sealed() {}

// Render prints the news source; news items carry no document number.
func (industryNews) Render(doc Document) string {
	return renderArticle(doc, metaLine("来源", doc.Organization))
}

func slug(c Category) string {
	return fmt.Sprintf("hierarchy_%d_%s", c.ID(), c.Name())
}

func metaLine(label, value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	return label + ": " + value
}

func renderArticle(doc Document, meta ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n发布时间: %s\n\n", doc.Title, doc.PublishDate)
	for _, line := range meta {
		if line != "" {
			b.WriteString(line)
			b.WriteString("\n\n")
		}
	}

	paragraphs := append([]Paragraph(nil), doc.Paragraphs...)
	sort.SliceStable(paragraphs, func(i, j int) bool {
		return paragraphs[i].GroupID < paragraphs[j].GroupID
	})
	for _, p := range paragraphs {
		text := stripHTML(p.Content)
		if strings.TrimSpace(text) == "" {
			continue
		}
		b.WriteString(text)
		b.WriteString("\n\n")
	}
	return b.String()
}

const blockElements = "p, div, li, tr, h1, h2, h3, h4, h5, h6, blockquote, pre, section, article"

// stripHTML drops markup but keeps block boundaries and <br> as line breaks.
// Blank lines are removed; leading indentation is kept.
func stripHTML(fragment string) string {
	if !strings.Contains(fragment, "<") {
		return fragment
	}
	parsed, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return fragment
	}
	parsed.Find("br").ReplaceWithHtml("\n")
	parsed.Find(blockElements).Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	var lines []string
	for line := range strings.SplitSeq(parsed.Text(), "\n") {
		line = strings.TrimRightFunc(line, unicode.IsSpace)
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
