package ssml

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsSSML(t *testing.T) {
	assert.True(t, IsSSML(`<speak><p>hi</p></speak>`))
	assert.True(t, IsSSML("<!-- converted -->\n<speak>hi</speak>"))
	assert.False(t, IsSSML("plain prose with <speak> mentioned later"))
	assert.False(t, IsSSML("just text"))
}

func TestSanitizeStripsUnsupportedTags(t *testing.T) {
	in := `<speak><p><voice name="x">hello</voice> <b>world</b></p></speak>`
	out := Sanitize(in)
	assert.Equal(t, `<speak><p>hello world</p></speak>`, out)
}

func TestSanitizeEscapesBareAmpersands(t *testing.T) {
	out := Sanitize(`<speak><s>AT&T &amp; friends &#160; R&D</s></speak>`)
	assert.Equal(t, `<speak><s>AT&amp;T &amp; friends &#160; R&amp;D</s></speak>`, out)
}

func TestSanitizeRemovesControlChars(t *testing.T) {
	out := Sanitize("<speak>a\x00b\x07c</speak>")
	assert.Equal(t, "<speak>abc</speak>", out)
}

func TestSanitizeIdempotent(t *testing.T) {
	in := `<speak><p><custom>text</custom> with R&D and <s>more.</s></p></speak>`
	once := Sanitize(in)
	assert.Equal(t, once, Sanitize(once))
}

func TestStripTagsAndBillableChars(t *testing.T) {
	in := `<speak><p><s>Hello   world.</s><break time="1s"/></p></speak>`
	assert.Equal(t, "Hello world.", StripTags(in))
	assert.Equal(t, 12, BillableChars(in))
}

func TestValidateAndRepairPassesWellFormed(t *testing.T) {
	in := `<speak><p><s>fine.</s></p></speak>`
	out, fallback := ValidateAndRepair(in)
	assert.False(t, fallback)
	assert.Equal(t, in, out)
}

func TestValidateAndRepairFixesStrayChars(t *testing.T) {
	in := `<speak><p><s>x < y and AT&T</s></p></speak>`
	out, fallback := ValidateAndRepair(in)
	assert.False(t, fallback)
	assert.True(t, WellFormed(out))
	assert.Contains(t, out, "&lt;")
	assert.Contains(t, out, "&amp;T")
}

func TestValidateAndRepairFallsBackToPlainText(t *testing.T) {
	in := `<speak><p><s>broken <emphasis>markup</s></p></speak>`
	out, fallback := ValidateAndRepair(in)
	assert.True(t, fallback)
	assert.True(t, WellFormed(out))
	assert.True(t, strings.HasPrefix(out, "<speak><p><s>"))
	assert.Contains(t, out, "broken")
	assert.Contains(t, out, "markup")
	assert.NotContains(t, out, "<emphasis")
}

func TestSectionTitleFromProsody(t *testing.T) {
	win := "<speak>\n<prosody rate=\"95%\" pitch=\"+1st\">Methods</prosody>\n<p><s>We did things.</s></p>\n</speak>"
	assert.Equal(t, "Methods", SectionTitle(win))
	assert.True(t, IsSectionStart(win))
	assert.False(t, IsSectionStart("<speak><p><s>no header here</s></p></speak>"))
}
