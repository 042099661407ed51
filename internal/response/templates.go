package response

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/policy-graphrag/backend/internal/models"
)

const (
	TemplateNoResults = "no_results"
	TemplateGeneric   = "generic"
)

var placeholderPattern = regexp.MustCompile(`\{([a-z0-9_]+)\}`)

// Template is an answer skeleton with {name} placeholders.
type Template struct {
	ID     string
	Format models.ResponseFormat
	Text   string
}

// Variables lists the placeholders the template requires, sorted.
func (t Template) Variables() []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range placeholderPattern.FindAllStringSubmatch(t.Text, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	sort.Strings(out)
	return out
}

// MissingVariableError reports a placeholder with no value at render time.
type MissingVariableError struct {
	Template string
	Variable string
}

func (e *MissingVariableError) Error() string {
	return fmt.Sprintf("template %q: missing variable %q", e.Template, e.Variable)
}

var defaultTemplates = []Template{
	{ID: string(models.IntentCoverageAmount), Format: models.FormatTable,
		Text: "{subject} 보장 금액은 다음과 같습니다.\n{items}\n합계: {total}"},
	{ID: string(models.IntentCoverageCheck), Format: models.FormatText,
		Text: "{subject}은(는) {verdict}.\n{items}"},
	{ID: string(models.IntentDiseaseComparison), Format: models.FormatComparison,
		Text: "{item1}와(과) {item2}의 보장을 비교했습니다.\n공통 보장: {similarities}\n{item1}에만 있는 보장: {only1}\n{item2}에만 있는 보장: {only2}"},
	{ID: string(models.IntentCoverageComparison), Format: models.FormatComparison,
		Text: "{item1}와(과) {item2}의 보장 대상을 비교했습니다.\n공통 대상: {similarities}\n{item1}만 보장: {only1}\n{item2}만 보장: {only2}"},
	{ID: string(models.IntentExclusionCheck), Format: models.FormatList,
		Text: "{subject}의 보장 제외(면책) 사항은 다음과 같습니다.\n{items}"},
	{ID: string(models.IntentWaitingPeriod), Format: models.FormatText,
		Text: "{subject}의 대기기간은 다음과 같습니다.\n{items}"},
	{ID: string(models.IntentAgeLimit), Format: models.FormatText,
		Text: "{subject}의 가입 가능 나이는 다음과 같습니다.\n{items}"},
	{ID: string(models.IntentProductSummary), Format: models.FormatSummary,
		Text: "{subject} 요약입니다.\n{items}"},
	{ID: string(models.IntentGeneralInfo), Format: models.FormatText,
		Text: "{subject} 관련 정보입니다.\n{items}"},
	{ID: TemplateNoResults, Format: models.FormatText,
		Text: "'{query}'에 대한 정보를 찾지 못했습니다. 질병명이나 담보명을 포함해 다시 질문해 주세요."},
	{ID: TemplateGeneric, Format: models.FormatText,
		Text: "'{query}'에 대한 검색 결과입니다.\n{items}"},
}

// TemplateManager holds answer templates keyed by id. Intent templates use
// the intent name as their id.
type TemplateManager struct {
	mu        sync.RWMutex
	templates map[string]Template
}

func NewTemplateManager() *TemplateManager {
	m := &TemplateManager{templates: make(map[string]Template, len(defaultTemplates))}
	for _, t := range defaultTemplates {
		m.templates[t.ID] = t
	}
	return m
}

// Register adds or replaces a template.
func (m *TemplateManager) Register(t Template) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates[t.ID] = t
}

func (m *TemplateManager) Get(id string) (Template, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.templates[id]
	return t, ok
}

// SelectBestTemplate returns the no-results template when there is nothing
// to show, else the intent's template, else the generic one.
func (m *TemplateManager) SelectBestTemplate(intent models.Intent, hasResults bool) Template {
	if !hasResults {
		t, _ := m.Get(TemplateNoResults)
		return t
	}
	if t, ok := m.Get(string(intent)); ok {
		return t
	}
	t, _ := m.Get(TemplateGeneric)
	return t
}

// Render substitutes every placeholder. A placeholder without a value is a
// *MissingVariableError.
func (m *TemplateManager) Render(id string, vars map[string]string) (string, error) {
	t, ok := m.Get(id)
	if !ok {
		return "", fmt.Errorf("%w: %s", models.ErrTemplateNotFound, id)
	}
	return t.Render(vars)
}

func (t Template) Render(vars map[string]string) (string, error) {
	for _, name := range t.Variables() {
		if _, ok := vars[name]; !ok {
			return "", &MissingVariableError{Template: t.ID, Variable: name}
		}
	}
	out := placeholderPattern.ReplaceAllStringFunc(t.Text, func(ph string) string {
		return vars[ph[1:len(ph)-1]]
	})
	return strings.TrimSpace(out), nil
}
