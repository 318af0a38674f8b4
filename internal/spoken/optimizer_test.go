package spoken

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConvertSymbols(t *testing.T) {
	assert.Equal(t, "95 percent of cases", ConvertSymbols("95% of cases"))
	assert.Equal(t, "A and B", strings.TrimSpace(FixPunctuation(ConvertSymbols("A & B"))))
	assert.Equal(t, "5 degrees Celsius", strings.TrimSpace(ConvertSymbols("5°C")))
	assert.Equal(t, "the alpha subunit", strings.TrimSpace(FixPunctuation(ConvertSymbols("the α subunit"))))
}

func TestExpandAbbreviations(t *testing.T) {
	assert.Equal(t, "metals, for example iron", ExpandAbbreviations("metals, e.g. iron"))
	assert.Equal(t, "Smith and others showed", ExpandAbbreviations("Smith et al. showed"))
	assert.Equal(t, "a Doctor of Philosophy student", ExpandAbbreviations("a PhD student"))
	// No word-boundary hit inside longer words.
	assert.Equal(t, "upheaval", ExpandAbbreviations("upheaval"))
}

func TestConvertUnitsOnlyAfterNumbers(t *testing.T) {
	assert.Equal(t, "5 kilograms of ore", ConvertUnits("5 kg of ore"))
	assert.Equal(t, "a 2.4 gigahertz band", ConvertUnits("a 2.4 GHz band"))
	assert.Equal(t, "measured in kg here", ConvertUnits("measured in kg here"))
	assert.Equal(t, "under 10 kilopascals load", ConvertUnits("under 10 kPa load"))
}

func TestCleanForSpeechHeadings(t *testing.T) {
	out := CleanForSpeech("## Methods\nWe measured twice.")
	assert.Contains(t, out, "Methods section.")
	assert.NotContains(t, out, "#")
}

func TestCleanForSpeechPunctuation(t *testing.T) {
	out := CleanForSpeech("The result (see Table 2) was clear -- very clear... indeed.")
	assert.NotContains(t, out, "(")
	assert.NotContains(t, out, "--")
	assert.NotContains(t, out, "...")
	assert.Contains(t, out, "was clear")
}

func TestCleanForSpeechBreaksLongSentences(t *testing.T) {
	long := strings.Repeat("the experiment ran for a while ", 5) +
		", which " + strings.Repeat("meant more waiting around ", 5) +
		", however " + strings.Repeat("the results held up well ", 5)
	out := CleanForSpeech(long)
	assert.Greater(t, strings.Count(out, ". "), 0)
	assert.Contains(t, out, "which")
	assert.Contains(t, out, "however")
}

func TestFixPunctuation(t *testing.T) {
	assert.Equal(t, "Done. Next", FixPunctuation("Done. , Next"))
	assert.Equal(t, "Done. Next", FixPunctuation("Done, . Next"))
	assert.Equal(t, "Take a breath here.", FixPunctuation("Take a pause breath here."))
}

func TestOptimizeFullChain(t *testing.T) {
	in := "## Results\nAt 37°C the yield was 80% (n=12), i.e. most samples passed."
	out := Optimize(in)
	assert.Contains(t, out, "Results section.")
	assert.Contains(t, out, "37 degrees Celsius")
	assert.Contains(t, out, "80 percent")
	assert.Contains(t, out, "that is")
	assert.NotContains(t, out, "(")
	assert.NotContains(t, out, "%")
}
