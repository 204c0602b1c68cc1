package normalize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sales-crm-docgen/internal/domain/model"
)

const wellFormed = `<!DOCTYPE html>
<html><head><title>Deck</title><style>body{margin:0}</style></head>
<body><div class="slide"><h1>Scope</h1><p>Line<br>break<img src="a.png"/></p></div></body></html>`

func countTags(s string) (opens, closes int) {
	for _, t := range scanTags(s) {
		switch {
		case t.closing:
			closes++
		case t.opens():
			opens++
		}
	}
	return opens, closes
}

func TestRepairTags_WellFormedIsNoop(t *testing.T) {
	assert.Equal(t, wellFormed, RepairTags(wellFormed))
}

func TestRepairTags_ClosesTruncatedDocument(t *testing.T) {
	in := "<html><body><div><p>text"
	out := RepairTags(in)

	assert.Equal(t, in+"</p></div></body></html>", out)
	opens, closes := countTags(out)
	assert.Equal(t, opens, closes)
	assert.True(t, strings.HasSuffix(out, "</html>"))
}

func TestRepairTags_MismatchedNestingRemovesMostRecentMatch(t *testing.T) {
	// </div> closes the div even though a span is on top
	in := "<html><body><div><span>x</div><section>y"
	assert.Equal(t, in+"</section></span></body></html>", RepairTags(in))
}

func TestRepairTags_VoidAndSelfClosingNeverOpen(t *testing.T) {
	in := "<html><body><p>a<br><hr/><img src=x><input type=text /><custom-el/>"
	assert.Equal(t, in+"</p></body></html>", RepairTags(in))
}

func TestRepairTags_DropsTagCutMidway(t *testing.T) {
	in := `<html><body><div class="card"><p>hello</p><di`
	assert.Equal(t, `<html><body><div class="card"><p>hello</p></div></body></html>`, RepairTags(in))
}

func TestRepairTags_FragmentWithoutRoot(t *testing.T) {
	assert.Equal(t, "<ul><li>a</li><li>b</li></ul>", RepairTags("<ul><li>a</li><li>b"))
}

func TestNormalize_MarkupStripsFencesAndPreamble(t *testing.T) {
	raw := "```html\nSure! Here is your deck:\n<!doctype html><html><head><style>h1{}</style></head><body><h1>Hi</h1></body></html>\n```"
	out := Normalize(model.ContentMarkup, raw, false)

	require.True(t, strings.HasPrefix(out, DocStart+"<html>"), out)
	assert.NotContains(t, out, "```")
	assert.NotContains(t, out, "Sure!")
	assert.Contains(t, out, layoutMarker)
	assert.Less(t, strings.Index(out, layoutMarker), strings.Index(out, "</style>"))
}

func TestNormalize_MarkupSynthesizesDocStart(t *testing.T) {
	out := Normalize(model.ContentMarkup, "html\n<div>loose</div>", false)
	assert.Equal(t, DocStart+"\n<div>loose</div>", out)
}

func TestNormalize_MarkupInjectsBeforeHeadClose(t *testing.T) {
	out := Normalize(model.ContentMarkup, "<html><head><title>x</title></head><body></body></html>", false)
	i := strings.Index(out, "<style>\n"+layoutMarker)
	require.GreaterOrEqual(t, i, 0)
	assert.Less(t, i, strings.Index(out, "</head>"))
}

func TestNormalize_MarkupRepairOnlyWhenTruncated(t *testing.T) {
	raw := "<!DOCTYPE html><html><head></head><body><div><div><div>cut"

	untouched := Normalize(model.ContentMarkup, raw, false)
	assert.NotContains(t, untouched, "</div>")

	repaired := Normalize(model.ContentMarkup, raw, true)
	assert.Equal(t, 3, strings.Count(repaired, "</div>"))
	assert.True(t, strings.HasSuffix(repaired, "cut</div></div></div></body></html>"), repaired)
}

func TestNormalize_StructuredText(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "strips markup blocks and tags",
			raw:  "<html><head><style>p{}</style></head><body><script>x()</script># Scope\n<b>Deliver</b> CRM sync</body></html>",
			want: "# Scope\nDeliver CRM sync",
		},
		{
			name: "strips fences",
			raw:  "```markdown\n# SOW\n- item\n```",
			want: "# SOW\n- item",
		},
		{
			name: "promotes first heading over preamble",
			raw:  "Here is the statement of work you asked for.\n\n## Overview\nText",
			want: "## Overview\nText",
		},
		{
			name: "prepends default heading",
			raw:  "Just some text",
			want: DefaultHeading + "\n\nJust some text",
		},
		{
			name: "empty input",
			raw:  "  ",
			want: DefaultHeading,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(model.ContentStructuredText, tt.raw, false))
		})
	}
}

func TestNormalize_ProseTrimsOnly(t *testing.T) {
	assert.Equal(t, "<b>keep</b> ```", Normalize(model.ContentProse, "  <b>keep</b> ```\n", false))
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{
		wellFormed,
		"```html\n<html><head></head><body><div><p>cut",
		"noise <!DOCTYPE html><html><body><ul><li>x",
		"<<b>i>tricky</i> text\n```\n# late heading",
		"plain words only",
		"",
		"<div>never closed",
		"```html\n<html><body><p>x</p></body></html>\n```\n```",
		"# T\n``````\nbody",
		"```\n```html\n<p>double fenced</p>\n```",
		"<<<<<<<<<<b>>>>>>>>>> deep",
	}
	for _, ct := range []model.ContentType{model.ContentMarkup, model.ContentStructuredText, model.ContentProse} {
		for _, truncated := range []bool{false, true} {
			for _, in := range inputs {
				once := Normalize(ct, in, truncated)
				assert.Equal(t, once, Normalize(ct, once, truncated), "ct=%s truncated=%v in=%q", ct, truncated, in)
			}
		}
	}
}

func TestNormalize_RepeatedFencesStripInOnePass(t *testing.T) {
	out := Normalize(model.ContentMarkup, "```html\n<html><body><p>x</p></body></html>\n```\n```", false)
	assert.NotContains(t, out, "```")
	assert.True(t, strings.HasSuffix(out, "</html>"), out)

	assert.Equal(t, "# T\nbody", Normalize(model.ContentStructuredText, "# T\n``````\nbody", false))
}

func TestNew_CustomFragments(t *testing.T) {
	n := New(Options{Stylesheet: ".x{}", DefaultHeading: "# Goals"})
	out := n.Normalize(model.ContentMarkup, "<html><head><style></style></head><body></body></html>", false)
	assert.Contains(t, out, layoutMarker+"\n.x{}")
	assert.Equal(t, "# Goals\n\nhi", n.Normalize(model.ContentStructuredText, "hi", false))
}
