package extractor

import (
	"log/slog"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/PuerkitoBio/goquery"
)

// Result is the output of one extraction.
type Result struct {
	Record *Record

	// Degraded is true when at least one required field is missing.
	Degraded bool

	// MissingRequired lists required fields that were absent, as dotted
	// paths for nested fields ("chapters.url").
	MissingRequired []string

	// Absent lists every field (required or not) that produced no value.
	Absent []string
}

// Extractor turns HTML into records according to a Schema.
// It is safe for concurrent use.
type Extractor struct {
	md *converter.Converter
}

// New creates an Extractor.
func New() *Extractor {
	return &Extractor{md: newMarkdownConverter()}
}

// Extract parses rawHTML once and evaluates every schema field against it.
// It never fails: unparseable input yields a record of absent fields.
func (x *Extractor) Extract(rawHTML, baseURL string, s *Schema) *Result {
	res := &Result{Record: NewRecord()}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		slog.Warn("extractor: parse failed", "schema", s.ID, "error", err)
		doc, _ = goquery.NewDocumentFromReader(strings.NewReader("<html></html>"))
	}

	run := &extraction{
		x:       x,
		rawHTML: rawHTML,
		base:    baseURL,
		res:     res,
		missing: make(map[string]struct{}),
		absent:  make(map[string]struct{}),
	}
	run.fill(res.Record, doc.Selection, s.Fields, "")
	res.Degraded = len(res.MissingRequired) > 0
	return res
}

// extraction carries the per-call state of one Extract.
type extraction struct {
	x       *Extractor
	rawHTML string
	base    string
	res     *Result

	missing map[string]struct{}
	absent  map[string]struct{}

	readabilityDone bool
	readabilityText string
}

func (e *extraction) fill(rec *Record, scope *goquery.Selection, fields []Field, prefix string) {
	for i := range fields {
		f := &fields[i]
		path := joinPath(prefix, f.Name)
		v := e.eval(scope, f, path)
		rec.Set(f.Name, v)
		if v != nil {
			continue
		}
		if _, seen := e.absent[path]; !seen {
			e.absent[path] = struct{}{}
			e.res.Absent = append(e.res.Absent, path)
		}
		if f.Required {
			if _, seen := e.missing[path]; !seen {
				e.missing[path] = struct{}{}
				e.res.MissingRequired = append(e.res.MissingRequired, path)
			}
		}
	}
}

// eval walks the selector chain and returns nil when nothing matched.
func (e *extraction) eval(scope *goquery.Selection, f *Field, path string) any {
	for _, sel := range f.Selectors {
		matches := find(scope, sel)
		if matches.Length() == 0 {
			continue
		}
		switch f.kind() {
		case KindSingle:
			for _, n := range matches.EachIter() {
				if v := e.value(n, f); v != "" {
					return v
				}
			}
		case KindList:
			var out []string
			for _, n := range matches.EachIter() {
				if v := e.value(n, f); v != "" {
					out = append(out, v)
				}
			}
			if len(out) > 0 {
				return out
			}
		case KindRecord:
			sub := NewRecord()
			e.fill(sub, matches.First(), f.Fields, path)
			return sub
		case KindRecords:
			out := make([]*Record, 0, matches.Length())
			for _, n := range matches.EachIter() {
				sub := NewRecord()
				e.fill(sub, n, f.Fields, path)
				out = append(out, sub)
			}
			return out
		}
	}
	return nil
}

func find(scope *goquery.Selection, sel string) *goquery.Selection {
	if sel == SelfSelector {
		return scope
	}
	return scope.Find(sel)
}

// value reads the first non-empty attribute of n and normalizes it.
func (e *extraction) value(n *goquery.Selection, f *Field) string {
	for _, attr := range f.attrs() {
		raw := e.read(n, attr)
		if f.Prose {
			raw = collapseSpace(raw)
		} else {
			raw = strings.TrimSpace(raw)
		}
		if raw == "" && !hasDefault(f.Transforms) {
			continue
		}
		if v := applyTransforms(raw, f.Transforms, e.base); v != "" {
			return v
		}
	}
	return ""
}

func (e *extraction) read(n *goquery.Selection, attr string) string {
	switch attr {
	case AttrText:
		return n.Text()
	case AttrHTML:
		h, err := n.Html()
		if err != nil {
			return ""
		}
		return h
	case AttrMarkdown:
		h, err := n.Html()
		if err != nil {
			return ""
		}
		return toMarkdown(e.x.md, h, e.base)
	case AttrReadability:
		if !e.readabilityDone {
			e.readabilityText = mainText(e.rawHTML, e.base)
			e.readabilityDone = true
		}
		return e.readabilityText
	default:
		v, _ := n.Attr(attr)
		return v
	}
}

func hasDefault(specs []string) bool {
	for _, s := range specs {
		if name, _ := splitTransform(s); name == "default" {
			return true
		}
	}
	return false
}
