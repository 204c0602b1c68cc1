// Package normalize turns raw model output into a structurally valid
// document of a declared content type. Every function here is pure and
// total: malformed input degrades to best-effort output, never an error.
package normalize

import (
	"regexp"
	"strings"

	"sales-crm-docgen/internal/domain/model"
)

const (
	DocStart       = "<!DOCTYPE html>"
	HeadingMarker  = "#"
	DefaultHeading = "# Document"

	// layoutMarker identifies the injected stylesheet so injection happens once.
	layoutMarker = "/* docgen-layout */"

	DefaultStylesheet = layoutMarker + `
body{font-family:system-ui,-apple-system,"Segoe UI",Roboto,sans-serif;margin:0;color:#1f2933}
.slide{box-sizing:border-box;width:100%;min-height:100vh;padding:48px 64px;page-break-after:always}
h1,h2,h3{line-height:1.2;margin:0 0 .5em}
table{border-collapse:collapse;width:100%}
td,th{border:1px solid #d9e2ec;padding:6px 10px;text-align:left}
`
)

var (
	docStartPattern = regexp.MustCompile(`(?i)<!doctype\s+html[^>]*>`)
	htmlOpenPattern = regexp.MustCompile(`(?i)<html[\s>]`)
	fenceLine       = regexp.MustCompile("(?m)^[ \t]*```[a-zA-Z0-9_+-]*[ \t]*\r?\n?")
	langTagLine     = regexp.MustCompile(`(?i)^(html|xml|markdown|md)[ \t]*\r?\n`)
	anyTag          = regexp.MustCompile(`</?[a-zA-Z!][^<>]*>`)
	headingLine     = regexp.MustCompile(`(?m)^[ \t]*#`)

	// Go's regexp has no back-references, so each block gets its own pattern.
	markupBlocks = []*regexp.Regexp{
		regexp.MustCompile(`(?is)<style\b[^>]*>.*?</style\s*>`),
		regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script\s*>`),
		regexp.MustCompile(`(?is)<head\b[^>]*>.*?</head\s*>`),
	}
)

// Normalizer carries the fixed fragments used during normalization.
type Normalizer struct {
	stylesheet     string
	defaultHeading string
}

type Options struct {
	// Stylesheet is injected into markup documents. It should contain
	// layoutMarker if callers rely on idempotent injection.
	Stylesheet string
	// DefaultHeading is prepended to structured text with no heading.
	DefaultHeading string
}

func New(opts Options) *Normalizer {
	n := &Normalizer{stylesheet: opts.Stylesheet, defaultHeading: opts.DefaultHeading}
	if n.stylesheet == "" {
		n.stylesheet = DefaultStylesheet
	}
	if !strings.Contains(n.stylesheet, layoutMarker) {
		n.stylesheet = layoutMarker + "\n" + n.stylesheet
	}
	if strings.TrimSpace(n.defaultHeading) == "" {
		n.defaultHeading = DefaultHeading
	}
	return n
}

var std = New(Options{})

// Normalize cleans raw with the default fragments.
func Normalize(ct model.ContentType, raw string, truncated bool) string {
	return std.Normalize(ct, raw, truncated)
}

// Normalize cleans raw for content type ct. truncated requests tag repair and
// only affects markup.
func (n *Normalizer) Normalize(ct model.ContentType, raw string, truncated bool) (out string) {
	defer func() {
		if recover() != nil {
			out = raw
		}
	}()

	switch ct {
	case model.ContentMarkup:
		return n.markup(raw, truncated)
	case model.ContentStructuredText:
		return n.structuredText(raw)
	default:
		return strings.TrimSpace(raw)
	}
}

func (n *Normalizer) markup(raw string, truncated bool) string {
	s := stripOuterFences(raw)

	if loc := docStartPattern.FindStringIndex(s); loc != nil {
		s = DocStart + s[loc[1]:]
	} else if loc := htmlOpenPattern.FindStringIndex(s); loc != nil {
		s = DocStart + "\n" + s[loc[0]:]
	} else {
		s = DocStart + "\n" + s
	}

	if truncated {
		s = RepairTags(s)
	}
	s = n.injectStylesheet(s)
	return strings.TrimSpace(s)
}

// stripOuterFences removes leading ```lang lines, trailing ``` runs and bare
// language tags left on the first line, until none remain.
func stripOuterFences(raw string) string {
	s := strings.TrimSpace(raw)
	for {
		prev := s
		if strings.HasPrefix(s, "```") {
			if nl := strings.IndexByte(s, '\n'); nl >= 0 {
				s = s[nl+1:]
			} else {
				s = ""
			}
		}
		s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
		s = strings.TrimSpace(langTagLine.ReplaceAllString(s, ""))
		if s == prev {
			return s
		}
	}
}

func (n *Normalizer) injectStylesheet(s string) string {
	if strings.Contains(s, layoutMarker) {
		return s
	}
	lower := strings.ToLower(s)
	if i := strings.Index(lower, "</style>"); i >= 0 {
		return s[:i] + "\n" + n.stylesheet + s[i:]
	}
	if i := strings.Index(lower, "</head>"); i >= 0 {
		return s[:i] + "<style>\n" + n.stylesheet + "</style>\n" + s[i:]
	}
	return s
}

func (n *Normalizer) structuredText(raw string) string {
	s := raw
	for _, re := range markupBlocks {
		s = re.ReplaceAllString(s, "")
	}
	// stripping "<<b>i>" leaves "<i>" and "``````" leaves "```", so repeat
	// until nothing changes; every pass that changes s shortens it
	for {
		next := fenceLine.ReplaceAllString(anyTag.ReplaceAllString(s, ""), "")
		if next == s {
			break
		}
		s = next
	}
	s = strings.TrimSpace(s)

	if !strings.HasPrefix(s, HeadingMarker) {
		if loc := headingLine.FindStringIndex(s); loc != nil {
			s = strings.TrimSpace(s[loc[0]:])
		} else if s == "" {
			s = n.defaultHeading
		} else {
			s = n.defaultHeading + "\n\n" + s
		}
	}
	return s
}
