// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package chunker

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// PDF extraction leaves several classes of damage in report text: MacRoman
// bytes decoded as cp1252, lost "ti" ligatures (with or without a U+FFFD
// replacement char left behind), inconsistent footnote markers, and
// letter-spaced headings. CleanText repairs them in a fixed order; every
// rule is idempotent.

// macRomanMarkers are cp1252 renderings of MacRoman accented vowels. Two or
// more occurrences mean the whole text needs the translation applied.
var macRomanMarkers = []string{"ˆ", "Ž", "ž", "Š", "š"}

var macRomanTranslation = strings.NewReplacer(
	"ˆ", "à",
	"Ž", "é",
	"ž", "û",
	"Š", "ä",
	"š", "ö",
)

// macRomanQuote is MacRoman's right single quote rendered as cp1252 Õ.
var macRomanQuote = regexp.MustCompile(`(\w)Õ(\w)`)

// replacementTokens repairs frequent words where the "ti" ligature decoded
// to U+FFFD. Checked before the generic fallback.
var replacementTokens = [][2]string{
	{"Na�onal", "National"},
	{"na�onal", "national"},
	{"Interna�onal", "International"},
	{"interna�onal", "international"},
	{"Evalua�on", "Evaluation"},
	{"evalua�on", "evaluation"},
	{"Educa�on", "Education"},
	{"educa�on", "education"},
	{"informa�on", "information"},
	{"implementa�on", "implementation"},
	{"organiza�on", "organization"},
	{"par�cipa�on", "participation"},
	{"recommenda�on", "recommendation"},
	{"sec�on", "section"},
	{"ac�on", "action"},
	{"func�on", "function"},
}

// replacementFallback restores a lost ligature between two letters.
var replacementFallback = regexp.MustCompile(`([a-z])\x{FFFD}([a-z])`)

// droppedLigatures repairs words where the "ti" ligature vanished without
// a trace. Keys match on word boundaries.
var droppedLigatures = map[string]string{
	"Naonal":         "National",
	"naonal":         "national",
	"Internaonal":    "International",
	"internaonal":    "international",
	"Formave":        "Formative",
	"formave":        "formative",
	"Acon":           "Action",
	"acon":           "action",
	"Acons":          "Actions",
	"acons":          "actions",
	"Evaluaon":       "Evaluation",
	"evaluaon":       "evaluation",
	"evaluaons":      "evaluations",
	"Educaon":        "Education",
	"educaon":        "education",
	"educaonal":      "educational",
	"informaon":      "information",
	"Informaon":      "Information",
	"implementaon":   "implementation",
	"Implementaon":   "Implementation",
	"organizaon":     "organization",
	"organizaons":    "organizations",
	"parcipaon":      "participation",
	"parcipants":     "participants",
	"recommendaon":   "recommendation",
	"recommendaons":  "recommendations",
	"Recommendaons":  "Recommendations",
	"effecve":        "effective",
	"effecvely":      "effectively",
	"effecveness":    "effectiveness",
	"objecve":        "objective",
	"objecves":       "objectives",
	"acvity":         "activity",
	"acvies":         "activities",
	"secon":          "section",
	"Secon":          "Section",
	"funcon":         "function",
	"producon":       "production",
	"protecon":       "protection",
	"populaon":       "population",
	"situaon":        "situation",
	"instuons":       "institutions",
	"instuon":        "institution",
	"contribuon":     "contribution",
	"contribuons":    "contributions",
	"coordinaon":     "coordination",
	"nutrion":        "nutrition",
	"Nutrion":        "Nutrition",
	"qualitave":      "qualitative",
	"quantave":       "quantitative",
	"administraon":   "administration",
	"consultaons":    "consultations",
	"consultaon":     "consultation",
	"documentaon":    "documentation",
	"evaluave":      "evaluative",
	"representaves": "representatives",
	"representave":  "representative",
	"iniave":        "initiative",
	"iniaves":       "initiatives",
}

var droppedLigaturePattern = buildLigaturePattern()

func buildLigaturePattern() *regexp.Regexp {
	keys := make([]string, 0, len(droppedLigatures))
	for key := range droppedLigatures {
		keys = append(keys, regexp.QuoteMeta(key))
	}
	return regexp.MustCompile(`\b(` + strings.Join(keys, "|") + `)\b`)
}

// Footnote marker forms, standardized to [^N].
var (
	footnoteSup     = regexp.MustCompile(`<sup>(\d{1,3})</sup>`)
	footnoteBracket = regexp.MustCompile(`\[(\d{1,3})\]`)
	// RE2 has no lookbehind; the leading capture keeps already-standard
	// [^N] markers from matching again.
	footnoteCaret        = regexp.MustCompile(`(^|[^\[\^])\^(\d{1,3})`)
	footnoteBareLeading  = regexp.MustCompile(`(?m)^(\d{1,3})[ \t]+([A-Z])`)
	footnoteDefColon     = regexp.MustCompile(`(?m)^(\[\^\d{1,3}\]):?[ \t]+`)
	spacedLetterRun      = regexp.MustCompile(`\b[A-Za-z]( [A-Za-z])+((   )[A-Za-z]( [A-Za-z])+)*\b`)
	spacedLetterBoundary = regexp.MustCompile(` {2,}`)
)

// CleanText applies the repair rules in order.
func CleanText(text string) string {
	if text == "" {
		return text
	}

	text = repairMacRoman(text)
	text = norm.NFKC.String(text)
	text = repairReplacementChars(text)
	text = repairDroppedLigatures(text)
	text = standardizeFootnotes(text)
	text = collapseSpacedLetters(text)
	return text
}

func repairMacRoman(text string) string {
	count := 0
	for _, marker := range macRomanMarkers {
		count += strings.Count(text, marker)
		if count >= 2 {
			break
		}
	}
	if count < 2 {
		return text
	}
	text = macRomanTranslation.Replace(text)
	return macRomanQuote.ReplaceAllString(text, "${1}’${2}")
}

func repairReplacementChars(text string) string {
	if !strings.ContainsRune(text, '�') {
		return text
	}
	for _, pair := range replacementTokens {
		text = strings.ReplaceAll(text, pair[0], pair[1])
	}
	return replacementFallback.ReplaceAllString(text, "${1}ti${2}")
}

func repairDroppedLigatures(text string) string {
	return droppedLigaturePattern.ReplaceAllStringFunc(text, func(match string) string {
		if fixed, ok := droppedLigatures[match]; ok {
			return fixed
		}
		return match
	})
}

func standardizeFootnotes(text string) string {
	text = footnoteSup.ReplaceAllString(text, "[^${1}]")
	text = footnoteBracket.ReplaceAllString(text, "[^${1}]")
	text = footnoteCaret.ReplaceAllString(text, "${1}[^${2}]")
	text = footnoteBareLeading.ReplaceAllString(text, "[^${1}]: ${2}")
	text = footnoteDefColon.ReplaceAllString(text, "${1}: ")
	return text
}

// collapseSpacedLetters rejoins letter-spaced headings ("E X E C U T I V E
// S U M M A R Y"); runs under four letters are left alone, and double or
// triple spaces inside a run mark word boundaries.
func collapseSpacedLetters(text string) string {
	return spacedLetterRun.ReplaceAllStringFunc(text, func(match string) string {
		letters := 0
		for _, r := range match {
			if r != ' ' {
				letters++
			}
		}
		if letters < 4 {
			return match
		}
		var b strings.Builder
		for _, word := range spacedLetterBoundary.Split(match, -1) {
			if b.Len() > 0 {
				b.WriteString(" ")
			}
			b.WriteString(strings.ReplaceAll(word, " ", ""))
		}
		return b.String()
	})
}
