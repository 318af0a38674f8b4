// Package spoken rewrites transformed text into a form that reads well
// aloud: symbols and units become words, abbreviations expand, and
// punctuation artifacts left behind by the rewrite service are cleaned up.
package spoken

import (
	"regexp"
	"strings"
)

// Symbols are replaced everywhere they appear. The replacement carries a
// leading space so "95%" reads "95 percent".
var symbolPairs = []struct{ sym, spoken string }{
	{"%", " percent"},
	{"&", " and"},
	{"±", " plus or minus"},
	{"°C", " degrees Celsius"},
	{"°F", " degrees Fahrenheit"},
	{"°", " degrees"},
	{"×", " times"},
	{"÷", " divided by"},
	{"≈", " approximately equals"},
	{"≤", " less than or equal to"},
	{"≥", " greater than or equal to"},
	{"→", " leads to"},
	{"←", " comes from"},
	{"↔", " is equivalent to"},
	{"α", " alpha"},
	{"β", " beta"},
	{"γ", " gamma"},
	{"δ", " delta"},
	{"ε", " epsilon"},
	{"λ", " lambda"},
	{"μm", " micrometers"},
	{"μg", " micrograms"},
	{"μ", " mu"},
	{"π", " pi"},
	{"σ", " sigma"},
	{"τ", " tau"},
	{"φ", " phi"},
	{"χ", " chi"},
	{"ψ", " psi"},
	{"ω", " omega"},
}

var abbreviationPairs = []struct{ abbr, spoken string }{
	{"e.g.", "for example"},
	{"i.e.", "that is"},
	{"etc.", "etcetera"},
	{"vs.", "versus"},
	{"cf.", "compare"},
	{"et al.", "and others"},
	{"w.r.t.", "with respect to"},
	{"PhD", "Doctor of Philosophy"},
	{"MSc", "Master of Science"},
	{"BSc", "Bachelor of Science"},
}

// Units expand only directly after a number, so "5 kg" reads "5 kilograms"
// while a bare "kg" in prose is left alone.
var unitPairs = []struct{ unit, spoken string }{
	{"nm", " nanometers"},
	{"mm", " millimeters"},
	{"cm", " centimeters"},
	{"km", " kilometers"},
	{"mg", " milligrams"},
	{"kg", " kilograms"},
	{"GPa", " gigapascals"},
	{"MPa", " megapascals"},
	{"kPa", " kilopascals"},
	{"Pa", " pascals"},
	{"Hz", " hertz"},
	{"kHz", " kilohertz"},
	{"MHz", " megahertz"},
	{"GHz", " gigahertz"},
}

type rewriteRule struct {
	re   *regexp.Regexp
	repl string
}

var (
	abbrevRules []rewriteRule
	unitRules   []rewriteRule

	bracketRe   = regexp.MustCompile(`[()\[\]{}]`)
	dashRunRe   = regexp.MustCompile(`--+`)
	spaceRunRe  = regexp.MustCompile(`\s+`)
	ellipsisRe  = regexp.MustCompile(`\.{2,}`)
	headingRe   = regexp.MustCompile(`(?m)^#{1,6}\s*(.+)$`)
	periodComma = regexp.MustCompile(`\.\s*,`)
	commaPeriod = regexp.MustCompile(`,\s*\.`)
	periodSemi  = regexp.MustCompile(`\.\s*;`)
	semiPeriod  = regexp.MustCompile(`;\s*\.`)
	pauseWordRe = regexp.MustCompile(`(?i)\bpause\b\.?\s*`)
	connectorRe = regexp.MustCompile(`,\s+(which|that|who|and|but|or|however|moreover|furthermore)\b`)
)

func init() {
	for _, p := range abbreviationPairs {
		pat := `(?i)\b` + regexp.QuoteMeta(p.abbr)
		if last := p.abbr[len(p.abbr)-1]; last != '.' {
			pat += `\b`
		}
		abbrevRules = append(abbrevRules, rewriteRule{regexp.MustCompile(pat), p.spoken})
	}
	for _, p := range unitPairs {
		pat := `(\d+(?:\.\d+)?)\s*` + regexp.QuoteMeta(p.unit) + `\b`
		unitRules = append(unitRules, rewriteRule{regexp.MustCompile(pat), "${1}" + p.spoken})
	}
}

// Optimize applies the full pass chain.
func Optimize(text string) string {
	text = ConvertSymbols(text)
	text = ExpandAbbreviations(text)
	text = ConvertUnits(text)
	text = CleanForSpeech(text)
	text = FixPunctuation(text)
	return text
}

func ConvertSymbols(text string) string {
	for _, p := range symbolPairs {
		text = strings.ReplaceAll(text, p.sym, p.spoken)
	}
	return text
}

func ExpandAbbreviations(text string) string {
	for _, r := range abbrevRules {
		text = r.re.ReplaceAllString(text, r.repl)
	}
	return text
}

func ConvertUnits(text string) string {
	for _, r := range unitRules {
		text = r.re.ReplaceAllString(text, r.repl)
	}
	return text
}

// CleanForSpeech drops visual punctuation that has no spoken form, turns
// headings into announced section names, and breaks run-on sentences at
// connector clauses so the narration can breathe.
func CleanForSpeech(text string) string {
	text = bracketRe.ReplaceAllString(text, "")
	text = dashRunRe.ReplaceAllString(text, " ")
	text = headingRe.ReplaceAllString(text, "$1 section.")
	text = spaceRunRe.ReplaceAllString(text, " ")
	text = ellipsisRe.ReplaceAllString(text, ".")

	sentences := strings.Split(text, ". ")
	out := make([]string, 0, len(sentences))
	for _, s := range sentences {
		if len(s) > 200 {
			out = append(out, breakAtConnectors(s)...)
		} else {
			out = append(out, s)
		}
	}
	return strings.Join(out, ". ")
}

func breakAtConnectors(sentence string) []string {
	locs := connectorRe.FindAllStringIndex(sentence, -1)
	if len(locs) == 0 {
		return []string{sentence}
	}
	var parts []string
	current := ""
	prev := 0
	for _, loc := range locs {
		segment := sentence[prev:loc[0]]
		if len(current)+len(segment) > 100 && current != "" {
			parts = append(parts, strings.TrimSpace(current))
			current = segment
		} else {
			current += segment
		}
		// The connector clause itself, minus the comma, opens the next
		// segment.
		current += " " + strings.TrimSpace(strings.TrimPrefix(sentence[loc[0]:loc[1]], ","))
		prev = loc[1]
	}
	current += sentence[prev:]
	if strings.TrimSpace(current) != "" {
		parts = append(parts, strings.TrimSpace(current))
	}
	return parts
}

// FixPunctuation repairs artifacts the rewrite service tends to leave:
// doubled terminators and literal "pause" words.
func FixPunctuation(text string) string {
	text = periodComma.ReplaceAllString(text, ".")
	text = commaPeriod.ReplaceAllString(text, ".")
	text = periodSemi.ReplaceAllString(text, ".")
	text = semiPeriod.ReplaceAllString(text, ".")
	text = pauseWordRe.ReplaceAllString(text, "")
	text = spaceRunRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
