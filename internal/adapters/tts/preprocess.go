package tts

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/YuriyZhabov/stellar-voice-agent/internal/domain"
)

// warnTextLength is the point past which synthesis latency becomes audible.
const warnTextLength = 1000

var abbreviations = []struct {
	from string
	to   string
}{
	{"Dr.", "Doctor"},
	{"Mr.", "Mister"},
	{"Mrs.", "Missus"},
	{"Ms.", "Miss"},
	{"etc.", "et cetera"},
	{"i.e.", "that is"},
	{"e.g.", "for example"},
	{"vs.", "versus"},
	{"approx.", "approximately"},
}

var (
	whitespaceRe   = regexp.MustCompile(`\s+`)
	currencyRe     = regexp.MustCompile(`\$(\d+(?:\.\d+)?)`)
	percentRe      = regexp.MustCompile(`(\d+(?:\.\d+)?)%`)
	repeatedEndRe  = regexp.MustCompile(`([.!?])[.!?]+`)
	bracketRe      = regexp.MustCompile(`[\[\]{}<>]`)
	curlyQuotesRe  = regexp.MustCompile("[‘’‚]")
	curlyDoubleRe  = regexp.MustCompile("[“”„]")
)

// PreprocessText normalizes text for synthesis: whitespace collapse, quote
// normalization, abbreviation expansion, currency and percent spelling,
// repeated-punctuation collapse and a guaranteed sentence-ending mark.
func PreprocessText(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return text
	}

	text = whitespaceRe.ReplaceAllString(text, " ")
	text = curlyQuotesRe.ReplaceAllString(text, "'")
	text = curlyDoubleRe.ReplaceAllString(text, `"`)

	for _, abbr := range abbreviations {
		text = strings.ReplaceAll(text, abbr.from, abbr.to)
	}

	text = currencyRe.ReplaceAllString(text, "$1 dollars")
	text = percentRe.ReplaceAllString(text, "$1 percent")
	text = repeatedEndRe.ReplaceAllString(text, "$1")

	last := text[len(text)-1]
	if last != '.' && last != '!' && last != '?' {
		text += "."
	}
	return text
}

// ValidateText rejects unusable input and logs warnings for text that will
// synthesize poorly.
func ValidateText(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: empty or whitespace-only text", domain.ErrInvalidText)
	}
	if len(text) > warnTextLength {
		slog.Warn("tts: text exceeds recommended length", "chars", len(text), "limit", warnTextLength)
	}
	if bracketRe.MatchString(text) {
		slog.Warn("tts: text contains bracket characters, synthesis may read them aloud")
	}
	return nil
}
