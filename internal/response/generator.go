package response

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/policy-graphrag/backend/internal/models"
)

const (
	maxListedItems  = 10
	maxSnippetRunes = 200
	citationRunes   = 120
)

// errNoStructuredData makes a generator defer to the generic listing.
var errNoStructuredData = errors.New("no structured data for intent")

type Options struct {
	// Entities name the subject of the answer; usually the analysed entities.
	Entities []models.ExtractedEntity
	// MaxItems bounds listed items. Zero means the default.
	MaxItems int
}

// draft is what an intent generator hands back for rendering.
type draft struct {
	templateID string
	vars       map[string]string
	table      *models.TableData
	comparison *models.Comparison
	items      []string
	structured bool
}

type input struct {
	query    string
	intent   models.Intent
	results  []models.SearchResult
	subject  string
	entities []models.ExtractedEntity
	limit    int
}

type generateFunc func(in input) (draft, error)

var generators = map[models.Intent]generateFunc{
	models.IntentCoverageAmount:     generateCoverageAmount,
	models.IntentCoverageCheck:      generateCoverageCheck,
	models.IntentDiseaseComparison:  generateComparison,
	models.IntentCoverageComparison: generateComparison,
	models.IntentExclusionCheck:     generateExclusions,
	models.IntentWaitingPeriod:      generateWaitingPeriod,
	models.IntentAgeLimit:           generateAgeLimit,
	models.IntentProductSummary:     generateProductSummary,
	models.IntentGeneralInfo:        generateGeneral,
}

// Generator renders search results into a formatted answer. It never touches
// the network.
type Generator struct {
	templates *TemplateManager
}

func NewGenerator(templates *TemplateManager) *Generator {
	if templates == nil {
		templates = NewTemplateManager()
	}
	return &Generator{templates: templates}
}

func (g *Generator) Templates() *TemplateManager {
	return g.templates
}

// Generate builds the answer for intent from results. Citations and
// follow-ups are always populated; callers drop them on output if unwanted.
func (g *Generator) Generate(query string, intent models.Intent, results []models.SearchResult, opts Options) (*models.GeneratedResponse, error) {
	start := time.Now()
	if !intent.Valid() {
		intent = models.IntentGeneralInfo
	}
	limit := opts.MaxItems
	if limit <= 0 {
		limit = maxListedItems
	}
	in := input{
		query:    query,
		intent:   intent,
		results:  results,
		subject:  subjectOf(opts.Entities),
		entities: opts.Entities,
		limit:    limit,
	}

	tmpl := g.templates.SelectBestTemplate(intent, len(results) > 0)
	var d draft
	switch tmpl.ID {
	case TemplateNoResults:
		d = draft{templateID: TemplateNoResults, vars: map[string]string{}}
	default:
		var err error
		d, err = generators[intent](in)
		if errors.Is(err, errNoStructuredData) {
			d = generateListing(in, TemplateGeneric)
		} else if err != nil {
			return nil, err
		}
		if _, ok := g.templates.Get(d.templateID); !ok {
			d.templateID = TemplateGeneric
		}
	}
	d.vars["query"] = strings.TrimSpace(query)
	d.vars["subject"] = in.subject

	final, _ := g.templates.Get(d.templateID)
	answer, err := final.Render(d.vars)
	if err != nil {
		return nil, err
	}

	resp := &models.GeneratedResponse{
		Answer:              answer,
		Format:              final.Format,
		Table:               d.table,
		Comparison:          d.comparison,
		Items:               d.items,
		Citations:           Citations(results),
		FollowUpSuggestions: FollowUps(intent),
		TemplateID:          final.ID,
	}
	resp.ConfidenceScore = confidence(d, results, resp.Citations)
	resp.GenerationTimeMS = time.Since(start).Milliseconds()
	return resp, nil
}

func subjectOf(entities []models.ExtractedEntity) string {
	for _, kind := range []models.EntityKind{models.EntityDisease, models.EntityCoverage, models.EntityProduct, models.EntityCondition} {
		var names []string
		for _, e := range entities {
			if e.Kind == kind {
				names = append(names, e.Name())
			}
		}
		if len(names) > 0 {
			return strings.Join(names, ", ")
		}
	}
	return "문의하신 내용"
}

func bullet(items []string) string {
	lines := make([]string, len(items))
	for i, it := range items {
		lines[i] = "- " + it
	}
	return strings.Join(lines, "\n")
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "없음"
	}
	return strings.Join(items, ", ")
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "…"
}

func amountOf(r models.SearchResult) (int64, bool) {
	v, ok := r.Number("amount")
	if !ok {
		return 0, false
	}
	return int64(v), true
}

func generateCoverageAmount(in input) (draft, error) {
	table := &models.TableData{Headers: []string{"담보", "보장금액"}}
	var items []string
	var total int64
	seen := map[string]bool{}

	for _, r := range in.results {
		name := r.Prop("coverage")
		amount, ok := amountOf(r)
		if name == "" || !ok {
			continue
		}
		key := fmt.Sprintf("%s|%s|%d", r.Prop("product"), name, amount)
		if seen[key] {
			continue
		}
		seen[key] = true

		label := name
		if p := r.Prop("product"); p != "" {
			label = fmt.Sprintf("%s (%s)", name, p)
		}
		items = append(items, fmt.Sprintf("%s: %s", label, FormatWon(amount)))
		table.Rows = append(table.Rows, []string{label, FormatWon(amount)})
		total += amount
		if len(items) == in.limit {
			break
		}
	}
	if len(items) == 0 {
		return draft{}, errNoStructuredData
	}
	table.Rows = append(table.Rows, []string{"합계", FormatWonWithRaw(total)})

	return draft{
		templateID: string(models.IntentCoverageAmount),
		vars: map[string]string{
			"items": bullet(items),
			"total": FormatWonWithRaw(total),
		},
		table:      table,
		items:      items,
		structured: true,
	}, nil
}

func generateCoverageCheck(in input) (draft, error) {
	var items []string
	seen := map[string]bool{}
	for _, r := range in.results {
		name := r.Prop("coverage")
		if name == "" {
			continue
		}
		label := name
		if p := r.Prop("product"); p != "" {
			label = fmt.Sprintf("%s (%s)", name, p)
		}
		if amount, ok := amountOf(r); ok {
			label += " " + FormatWon(amount)
		}
		if seen[label] {
			continue
		}
		seen[label] = true
		items = append(items, label)
		if len(items) == in.limit {
			break
		}
	}
	if len(items) == 0 {
		return draft{}, errNoStructuredData
	}
	return draft{
		templateID: string(models.IntentCoverageCheck),
		vars: map[string]string{
			"verdict": fmt.Sprintf("다음 %d개 담보에서 보장됩니다", len(items)),
			"items":   bullet(items),
		},
		items:      items,
		structured: true,
	}, nil
}

func generateComparison(in input) (draft, error) {
	var names []string
	sets := map[string][]string{}
	for _, r := range in.results {
		item := r.Prop("item")
		if item == "" || r.Properties["associated"] == nil {
			continue
		}
		if _, ok := sets[item]; !ok {
			names = append(names, item)
		}
		sets[item] = append(sets[item], r.Strings("associated")...)
	}
	if len(names) < 2 {
		return draft{}, errNoStructuredData
	}
	orderByMention(names, in.entities)

	cmp := models.Compare(names[0], sets[names[0]], names[1], sets[names[1]])
	return draft{
		templateID: string(in.intent),
		vars: map[string]string{
			"item1":        cmp.Item1,
			"item2":        cmp.Item2,
			"similarities": joinOrNone(cmp.Similarities),
			"only1":        joinOrNone(cmp.OnlyItem1),
			"only2":        joinOrNone(cmp.OnlyItem2),
		},
		comparison: &cmp,
		structured: true,
	}, nil
}

// orderByMention puts items in the order the question named them.
func orderByMention(names []string, entities []models.ExtractedEntity) {
	pos := make(map[string]int, len(entities))
	for i, e := range entities {
		if _, ok := pos[e.Name()]; !ok {
			pos[e.Name()] = i
		}
	}
	sort.SliceStable(names, func(i, j int) bool {
		pi, oki := pos[names[i]]
		pj, okj := pos[names[j]]
		if oki && okj {
			return pi < pj
		}
		return oki && !okj
	})
}

func generateExclusions(in input) (draft, error) {
	var items []string
	seen := map[string]bool{}
	for _, r := range in.results {
		if r.Source == models.SourceVector {
			continue
		}
		name := r.Prop("name")
		if name == "" {
			continue
		}
		if d := r.Prop("description"); d != "" {
			name = fmt.Sprintf("%s: %s", name, truncate(d, maxSnippetRunes))
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		items = append(items, name)
		if len(items) == in.limit {
			break
		}
	}
	if len(items) == 0 {
		return draft{}, errNoStructuredData
	}
	return draft{
		templateID: string(models.IntentExclusionCheck),
		vars:       map[string]string{"items": bullet(items)},
		items:      items,
		structured: true,
	}, nil
}

func generateWaitingPeriod(in input) (draft, error) {
	var items []string
	for _, r := range in.results {
		days, ok := r.Number("waiting_days")
		if !ok {
			continue
		}
		label := r.Prop("coverage")
		if label == "" {
			label = r.Prop("name")
		}
		if p := r.Prop("product"); p != "" {
			label = strings.TrimSpace(fmt.Sprintf("%s %s", p, label))
		}
		if label == "" {
			label = "대기기간"
		}
		items = append(items, fmt.Sprintf("%s: %s", label, FormatDays(days)))
		if len(items) == in.limit {
			break
		}
	}
	if len(items) == 0 {
		return draft{}, errNoStructuredData
	}
	return draft{
		templateID: string(models.IntentWaitingPeriod),
		vars:       map[string]string{"items": bullet(items)},
		items:      items,
		structured: true,
	}, nil
}

func generateAgeLimit(in input) (draft, error) {
	var items []string
	for _, r := range in.results {
		lo, hasMin := r.Number("min_age")
		hi, hasMax := r.Number("max_age")
		if !hasMin && !hasMax {
			continue
		}
		product := r.Prop("product")
		if product == "" {
			product = r.Prop("name")
		}
		items = append(items, fmt.Sprintf("%s: %s", product, FormatAgeRange(lo, hi, hasMin, hasMax)))
		if len(items) == in.limit {
			break
		}
	}
	if len(items) == 0 {
		return draft{}, errNoStructuredData
	}
	return draft{
		templateID: string(models.IntentAgeLimit),
		vars:       map[string]string{"items": bullet(items)},
		items:      items,
		structured: true,
	}, nil
}

func generateProductSummary(in input) (draft, error) {
	var items []string
	for _, r := range in.results {
		product := r.Prop("product")
		if product == "" || r.Properties["coverages"] == nil {
			continue
		}
		line := fmt.Sprintf("%s: 담보 %s", product, joinOrNone(r.Strings("coverages")))
		lo, hasMin := r.Number("min_age")
		hi, hasMax := r.Number("max_age")
		if hasMin || hasMax {
			line += ", 가입나이 " + FormatAgeRange(lo, hi, hasMin, hasMax)
		}
		if n, ok := r.Number("exclusion_count"); ok {
			line += fmt.Sprintf(", 면책 %d건", int(n))
		}
		if d := r.Prop("description"); d != "" {
			line += " - " + truncate(d, maxSnippetRunes)
		}
		items = append(items, line)
		if len(items) == in.limit {
			break
		}
	}
	if len(items) == 0 {
		return draft{}, errNoStructuredData
	}
	return draft{
		templateID: string(models.IntentProductSummary),
		vars:       map[string]string{"items": bullet(items)},
		items:      items,
		structured: true,
	}, nil
}

func generateGeneral(in input) (draft, error) {
	return generateListing(in, string(models.IntentGeneralInfo)), nil
}

// generateListing lists result texts; used when no structured data fits.
func generateListing(in input, templateID string) draft {
	var items []string
	for _, r := range in.results {
		text := strings.TrimSpace(r.Text)
		if text == "" {
			continue
		}
		text = truncate(text, maxSnippetRunes)
		if r.ArticleRef != "" {
			text = fmt.Sprintf("%s (%s)", text, r.ArticleRef)
		}
		items = append(items, text)
		if len(items) == in.limit {
			break
		}
	}
	if len(items) == 0 {
		items = []string{"관련 항목이 검색되었으나 표시할 내용이 없습니다."}
	}
	return draft{
		templateID: templateID,
		vars:       map[string]string{"items": bullet(items)},
		items:      items,
	}
}

// Citations takes up to MaxCitations results that carry a store id.
func Citations(results []models.SearchResult) []models.Citation {
	out := make([]models.Citation, 0, models.MaxCitations)
	seen := map[string]bool{}
	for _, r := range results {
		if r.ID == "" || seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		kind := r.NodeType
		if kind == "" {
			kind = string(r.Source)
		}
		out = append(out, models.Citation{
			Kind:           kind,
			SourceID:       r.ID,
			ArticleRef:     r.ArticleRef,
			Text:           truncate(r.Text, citationRunes),
			RelevanceScore: models.Clamp01(r.Score),
		})
		if len(out) == models.MaxCitations {
			break
		}
	}
	return out
}

var followUps = map[models.Intent][]string{
	models.IntentCoverageAmount: {
		"이 담보의 대기기간은 얼마인가요?",
		"보장에서 제외되는 경우는 무엇인가요?",
		"다른 질병과 보장 금액을 비교해 주세요.",
	},
	models.IntentCoverageCheck: {
		"보장 금액은 얼마인가요?",
		"면책 사항은 무엇인가요?",
		"가입 가능한 나이는 어떻게 되나요?",
	},
	models.IntentDiseaseComparison: {
		"각 질병의 보장 금액은 얼마인가요?",
		"두 질병의 대기기간 차이는 무엇인가요?",
	},
	models.IntentCoverageComparison: {
		"각 담보의 보장 금액은 얼마인가요?",
		"각 담보의 면책 사항은 무엇인가요?",
	},
	models.IntentExclusionCheck: {
		"면책기간이 지나면 보장되나요?",
		"보장되는 질병 목록을 알려 주세요.",
	},
	models.IntentWaitingPeriod: {
		"대기기간 중 진단받으면 어떻게 되나요?",
		"감액기간은 얼마나 되나요?",
	},
	models.IntentAgeLimit: {
		"나이에 따라 보험료가 달라지나요?",
		"가입 가능한 상품을 알려 주세요.",
	},
	models.IntentProductSummary: {
		"주요 담보의 보장 금액은 얼마인가요?",
		"면책 사항은 무엇인가요?",
		"가입 나이는 어떻게 되나요?",
	},
	models.IntentGeneralInfo: {
		"어떤 질병이 보장되나요?",
		"보장 금액을 알려 주세요.",
		"면책 사항은 무엇인가요?",
	},
}

// FollowUps returns at most MaxFollowUps fixed suggestions for intent.
func FollowUps(intent models.Intent) []string {
	list := followUps[intent]
	if list == nil {
		list = followUps[models.IntentGeneralInfo]
	}
	if len(list) > models.MaxFollowUps {
		list = list[:models.MaxFollowUps]
	}
	return append([]string{}, list...)
}

// confidence grows with structured matches and citable sources.
func confidence(d draft, results []models.SearchResult, citations []models.Citation) float64 {
	if len(results) == 0 {
		return 0.1
	}
	n := len(d.items)
	if d.comparison != nil {
		n = 2
	}
	if n > 4 {
		n = 4
	}
	score := 0.35 + 0.025*float64(n)
	if d.structured {
		score = 0.7 + 0.05*float64(n)
	}
	if len(citations) > 0 {
		score += 0.05
	}
	return models.Clamp01(score)
}
