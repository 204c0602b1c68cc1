package normalize

import (
	"regexp"
	"strings"
)

var tagPattern = regexp.MustCompile(`<(/?)([a-zA-Z][a-zA-Z0-9-]*)\b[^<>]*?(/?)>`)

var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"param": true, "source": true, "track": true, "wbr": true,
}

// Structural root, closed last and in this order. A closer is written only
// when its element is still open; a fragment with no <body> or <html> gets
// none, so repair never adds an unmatched closing tag.
var rootClosers = []string{"body", "html"}

type tagToken struct {
	name        string
	closing     bool
	selfClosing bool
}

func scanTags(s string) []tagToken {
	matches := tagPattern.FindAllStringSubmatch(s, -1)
	out := make([]tagToken, 0, len(matches))
	for _, m := range matches {
		out = append(out, tagToken{
			name:        strings.ToLower(m[2]),
			closing:     m[1] == "/",
			selfClosing: m[3] == "/",
		})
	}
	return out
}

func (t tagToken) opens() bool {
	return !t.closing && !t.selfClosing && !voidElements[t.name]
}

// tagsBalanced is the cheap pre-check: equal counts of opening and closing tags.
func tagsBalanced(tags []tagToken) bool {
	opens, closes := 0, 0
	for _, t := range tags {
		switch {
		case t.closing:
			closes++
		case t.opens():
			opens++
		}
	}
	return opens == closes
}

// RepairTags appends closing tags for every element left open in s.
// Closing tags pop the most recent open element of the same name, which
// tolerates mis-nested input. Open elements are closed innermost first and
// the body/html root is closed last. A trailing tag cut off mid-way is
// dropped before the scan. Well-formed input is returned unchanged.
//
// RepairTags never panics; on internal failure it returns s unmodified.
func RepairTags(s string) (out string) {
	defer func() {
		if recover() != nil {
			out = s
		}
	}()

	text := dropDanglingTag(s)
	tags := scanTags(text)
	if tagsBalanced(tags) {
		return text
	}

	var stack []string
	for _, t := range tags {
		switch {
		case t.closing:
			for i := len(stack) - 1; i >= 0; i-- {
				if stack[i] == t.name {
					stack = append(stack[:i], stack[i+1:]...)
					break
				}
			}
		case t.opens():
			stack = append(stack, t.name)
		}
	}
	if len(stack) == 0 {
		return text
	}

	open := make(map[string]bool, len(rootClosers))
	var b strings.Builder
	for i := len(stack) - 1; i >= 0; i-- {
		name := stack[i]
		if isRoot(name) {
			open[name] = true
			continue
		}
		b.WriteString("</" + name + ">")
	}
	for _, name := range rootClosers {
		if open[name] {
			b.WriteString("</" + name + ">")
		}
	}
	return text + b.String()
}

func isRoot(name string) bool {
	for _, r := range rootClosers {
		if r == name {
			return true
		}
	}
	return false
}

// dropDanglingTag removes a final "<tag ..." that never reached its '>'.
func dropDanglingTag(s string) string {
	lt := strings.LastIndex(s, "<")
	if lt < 0 || strings.LastIndex(s, ">") > lt {
		return s
	}
	rest := s[lt+1:]
	if rest == "" {
		return s[:lt]
	}
	c := rest[0]
	if c == '/' || c == '!' || (c|0x20 >= 'a' && c|0x20 <= 'z') {
		return s[:lt]
	}
	return s
}
