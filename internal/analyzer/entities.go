package analyzer

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"github.com/jdkato/prose/v2"

	"github.com/policy-graphrag/backend/internal/models"
)

const (
	exactConfidence  = 0.95
	aliasConfidence  = 0.9
	codeConfidence   = 0.95
	numberConfidence = 0.9

	// fuzzy matches score between fuzzyFloor and fuzzyCeiling.
	fuzzyFloor   = 0.6
	fuzzyCeiling = 0.85
)

var (
	kcdPattern    = regexp.MustCompile(`(?i)\b([A-Z][0-9]{2}(?:\.[0-9]{1,2})?)\b`)
	periodPattern = regexp.MustCompile(`([0-9]+)\s*(일|개월|달|년)`)
	agePattern    = regexp.MustCompile(`(?:만\s*)?([0-9]{1,3})\s*(세|살)`)
	eokManPattern = regexp.MustCompile(`([0-9][0-9,]*)\s*억\s*([0-9][0-9,]*)\s*만\s*(원)?`)
	amountPattern = regexp.MustCompile(`([0-9][0-9,]*(?:\.[0-9]+)?)\s*(억|천만|백만|만|천)?\s*(원)?`)
)

// particles are Korean postpositions stripped from token ends, longest first.
var particles = []string{
	"에서는", "으로는", "까지는", "이랑은",
	"에서", "으로", "까지", "부터", "에게", "한테", "이랑", "처럼", "보다", "은요", "는요", "이요",
	"은", "는", "이", "가", "을", "를", "의", "에", "로", "와", "과", "도", "만", "랑", "요",
}

var stopwords = stringSet(
	"그", "그럼", "그러면", "그리고", "또", "좀", "얼마나", "어떻게", "무엇", "뭐", "뭔가",
	"있나요", "있어요", "인가요", "되나요", "해줘", "알려줘", "주세요", "수", "것", "거", "때",
	"the", "a", "an", "is", "are", "of", "for", "what", "how", "and", "or", "in",
)

func stringSet(words ...string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

type match struct {
	term       Term
	order      int
	start, end int
	surface    string
	confidence float64
	fuzzy      bool
}

// matchVocabulary finds exact surface matches. Overlapping candidates are
// resolved longest-match-wins, then by vocabulary listing order.
func matchVocabulary(lower string, vocab *Vocabulary) []match {
	var candidates []match
	for order, term := range vocab.Terms() {
		for i, surface := range term.surfaces() {
			needle := strings.ToLower(surface)
			if needle == "" {
				continue
			}
			conf := exactConfidence
			if i > 0 {
				conf = aliasConfidence
			}
			from := 0
			for {
				idx := strings.Index(lower[from:], needle)
				if idx < 0 {
					break
				}
				start := from + idx
				candidates = append(candidates, match{
					term:       term,
					order:      order,
					start:      start,
					end:        start + len(needle),
					surface:    needle,
					confidence: conf,
				})
				from = start + len(needle)
			}
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		li := utf8.RuneCountInString(candidates[i].surface)
		lj := utf8.RuneCountInString(candidates[j].surface)
		if li != lj {
			return li > lj
		}
		if candidates[i].order != candidates[j].order {
			return candidates[i].order < candidates[j].order
		}
		return candidates[i].start < candidates[j].start
	})

	var accepted []match
	for _, c := range candidates {
		if overlapsAny(c.start, c.end, accepted) {
			continue
		}
		accepted = append(accepted, c)
	}
	return accepted
}

func overlapsAny(start, end int, accepted []match) bool {
	for _, a := range accepted {
		if start < a.end && a.start < end {
			return true
		}
	}
	return false
}

type token struct {
	text       string
	start, end int
}

// tokenize splits the query with the prose tokenizer and recovers byte
// offsets by scanning forward through the original text.
func tokenize(text string) []token {
	doc, err := prose.NewDocument(text,
		prose.WithTagging(false),
		prose.WithSegmentation(false),
		prose.WithExtraction(false),
	)
	if err != nil {
		return fieldsTokens(text)
	}

	var out []token
	cursor := 0
	for _, tok := range doc.Tokens() {
		idx := strings.Index(text[cursor:], tok.Text)
		if idx < 0 {
			continue
		}
		start := cursor + idx
		out = append(out, token{text: tok.Text, start: start, end: start + len(tok.Text)})
		cursor = start + len(tok.Text)
	}
	return out
}

func fieldsTokens(text string) []token {
	var out []token
	cursor := 0
	for _, f := range strings.Fields(text) {
		idx := strings.Index(text[cursor:], f)
		start := cursor + idx
		out = append(out, token{text: f, start: start, end: start + len(f)})
		cursor = start + len(f)
	}
	return out
}

// stripParticle removes one trailing postposition, keeping at least one rune.
func stripParticle(word string) string {
	for _, p := range particles {
		if strings.HasSuffix(word, p) && utf8.RuneCountInString(word) > utf8.RuneCountInString(p) {
			return strings.TrimSuffix(word, p)
		}
	}
	return word
}

func cleanToken(word string) string {
	word = strings.TrimFunc(word, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.IsSpace(r)
	})
	return strings.ToLower(word)
}

func similarity(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 0
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

// matchFuzzy compares tokens that exact matching left mostly uncovered against
// every surface form long enough for edit distance to be meaningful. A fuzzy
// hit replaces the short exact matches inside its token, so "갑상샘암"
// resolves to 갑상선암 rather than to the 암 it contains.
func matchFuzzy(tokens []token, vocab *Vocabulary, accepted []match, threshold float64, minRunes int) []match {
	for _, tok := range tokens {
		word := stripParticle(cleanToken(tok.text))
		wordRunes := utf8.RuneCountInString(word)
		if wordRunes < minRunes {
			continue
		}
		covered := 0
		for _, a := range accepted {
			if tok.start < a.end && a.start < tok.end {
				covered += utf8.RuneCountInString(a.surface)
			}
		}
		if covered*2 > wordRunes {
			continue
		}

		best := match{}
		bestSim := 0.0
		for order, term := range vocab.Terms() {
			for _, surface := range term.surfaces() {
				surface = strings.ToLower(surface)
				if utf8.RuneCountInString(surface) < minRunes {
					continue
				}
				sim := similarity(word, surface)
				if sim > bestSim {
					bestSim = sim
					best = match{term: term, order: order, surface: surface}
				}
			}
		}
		if bestSim < threshold || bestSim >= 1 {
			continue
		}
		best.start, best.end = tok.start, tok.end
		best.fuzzy = true
		best.confidence = fuzzyConfidence(bestSim, threshold)

		kept := accepted[:0:0]
		for _, a := range accepted {
			if !(tok.start < a.end && a.start < tok.end) {
				kept = append(kept, a)
			}
		}
		accepted = append(kept, best)
	}
	return accepted
}

func fuzzyConfidence(sim, threshold float64) float64 {
	if threshold >= 1 {
		return fuzzyCeiling
	}
	frac := (sim - threshold) / (1 - threshold)
	return fuzzyFloor + frac*(fuzzyCeiling-fuzzyFloor)
}

// matchCodes resolves KCD codes typed in the query.
func matchCodes(query string, vocab *Vocabulary, accepted []match) []match {
	var out []match
	for _, loc := range kcdPattern.FindAllStringSubmatchIndex(query, -1) {
		start, end := loc[2], loc[3]
		if overlapsAny(start, end, accepted) {
			continue
		}
		term, ok := vocab.ByCode(query[start:end])
		if !ok {
			continue
		}
		out = append(out, match{
			term:       term,
			start:      start,
			end:        end,
			surface:    query[start:end],
			confidence: codeConfidence,
		})
	}
	return out
}

func (m match) entity(query string) models.ExtractedEntity {
	text := m.surface
	if m.start >= 0 && m.end <= len(query) && m.start < m.end {
		text = query[m.start:m.end]
	}
	return models.ExtractedEntity{
		Text:       text,
		Kind:       m.term.Kind,
		Normalized: m.term.Name,
		Code:       m.term.Code,
		Confidence: m.confidence,
		Span:       models.Span{Start: m.start, End: m.end},
		Fuzzy:      m.fuzzy,
	}
}

// extractNumbers finds period, age and amount mentions in that priority
// order, skipping spans already claimed.
func extractNumbers(query string, claimed []match) []models.ExtractedEntity {
	var out []models.ExtractedEntity
	taken := append([]match(nil), claimed...)
	claim := func(start, end int) bool {
		if overlapsAny(start, end, taken) {
			return false
		}
		taken = append(taken, match{start: start, end: end})
		return true
	}

	for _, loc := range periodPattern.FindAllStringSubmatchIndex(query, -1) {
		n, err := strconv.Atoi(query[loc[2]:loc[3]])
		if err != nil || !claim(loc[0], loc[1]) {
			continue
		}
		days := n
		switch query[loc[4]:loc[5]] {
		case "개월", "달":
			days = n * 30
		case "년":
			days = n * 365
		}
		out = append(out, numberEntity(query, loc, models.EntityPeriod, strconv.Itoa(days)))
	}

	for _, loc := range agePattern.FindAllStringSubmatchIndex(query, -1) {
		if !claim(loc[0], loc[1]) {
			continue
		}
		out = append(out, numberEntity(query, loc, models.EntityAge, query[loc[2]:loc[3]]))
	}

	for _, loc := range eokManPattern.FindAllStringSubmatchIndex(query, -1) {
		eok, ok1 := parseWon(query[loc[2]:loc[3]], "억")
		man, ok2 := parseWon(query[loc[4]:loc[5]], "만")
		if !ok1 || !ok2 || !claim(loc[0], loc[1]) {
			continue
		}
		out = append(out, numberEntity(query, loc, models.EntityAmount, strconv.FormatInt(eok+man, 10)))
	}

	for _, loc := range amountPattern.FindAllStringSubmatchIndex(query, -1) {
		hasUnit := loc[4] >= 0
		hasWon := loc[6] >= 0
		if !hasUnit && !hasWon {
			continue
		}
		unit := ""
		if hasUnit {
			unit = query[loc[4]:loc[5]]
		}
		won, ok := parseWon(query[loc[2]:loc[3]], unit)
		if !ok || !claim(loc[0], loc[1]) {
			continue
		}
		out = append(out, numberEntity(query, loc, models.EntityAmount, strconv.FormatInt(won, 10)))
	}
	return out
}

func numberEntity(query string, loc []int, kind models.EntityKind, normalized string) models.ExtractedEntity {
	return models.ExtractedEntity{
		Text:       strings.TrimSpace(query[loc[0]:loc[1]]),
		Kind:       kind,
		Normalized: normalized,
		Confidence: numberConfidence,
		Span:       models.Span{Start: loc[0], End: loc[1]},
	}
}

var unitMultipliers = map[string]float64{
	"":   1,
	"천":  1_000,
	"만":  10_000,
	"백만": 1_000_000,
	"천만": 10_000_000,
	"억":  100_000_000,
}

func parseWon(digits, unit string) (int64, bool) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(digits, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	mult, ok := unitMultipliers[unit]
	if !ok {
		return 0, false
	}
	return int64(v * mult), true
}

// extractKeywords returns content words with particles and stopwords removed,
// deduplicated in query order.
func extractKeywords(tokens []token) []string {
	keywords := []string{}
	seen := make(map[string]bool)
	for _, tok := range tokens {
		word := stripParticle(cleanToken(tok.text))
		if word == "" || stopwords[word] || seen[word] {
			continue
		}
		if !containsLetter(word) {
			continue
		}
		seen[word] = true
		keywords = append(keywords, word)
	}
	return keywords
}

func containsLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
