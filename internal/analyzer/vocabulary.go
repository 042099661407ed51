package analyzer

import (
	"strings"

	"github.com/policy-graphrag/backend/internal/models"
)

// Term is one canonical vocabulary entry with its surface forms.
type Term struct {
	Name    string
	Kind    models.EntityKind
	Code    string
	Aliases []string
}

// Vocabulary is the known set of domain terms, in listing order. Listing
// order breaks ties between equally long matches.
type Vocabulary struct {
	terms []Term
	codes map[string]int
}

func NewVocabulary(terms []Term) *Vocabulary {
	v := &Vocabulary{codes: make(map[string]int)}
	for _, t := range terms {
		v.Add(t)
	}
	return v
}

// Add appends a term unless its canonical name is already known.
func (v *Vocabulary) Add(t Term) {
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return
	}
	for _, existing := range v.terms {
		if existing.Name == t.Name && existing.Kind == t.Kind {
			return
		}
	}
	v.terms = append(v.terms, t)
	if t.Code != "" {
		v.codes[strings.ToUpper(t.Code)] = len(v.terms) - 1
	}
}

func (v *Vocabulary) Terms() []Term {
	return v.terms
}

func (v *Vocabulary) Len() int {
	return len(v.terms)
}

// ByCode resolves a KCD-style code. Sub-codes fall back to their category,
// so "I21.9" resolves like "I21".
func (v *Vocabulary) ByCode(code string) (Term, bool) {
	code = strings.ToUpper(code)
	if idx, ok := v.codes[code]; ok {
		return v.terms[idx], true
	}
	if dot := strings.IndexByte(code, '.'); dot > 0 {
		if idx, ok := v.codes[code[:dot]]; ok {
			return v.terms[idx], true
		}
	}
	return Term{}, false
}

func (t Term) surfaces() []string {
	out := make([]string, 0, len(t.Aliases)+1)
	out = append(out, t.Name)
	out = append(out, t.Aliases...)
	return out
}

// DefaultVocabulary holds the disease, coverage, product and condition terms
// found in standard Korean health and life policies.
func DefaultVocabulary() *Vocabulary {
	return NewVocabulary([]Term{
		{Name: "급성심근경색증", Kind: models.EntityDisease, Code: "I21", Aliases: []string{"급성심근경색", "심근경색증", "심근경색"}},
		{Name: "협심증", Kind: models.EntityDisease, Code: "I20"},
		{Name: "뇌졸중", Kind: models.EntityDisease, Code: "I64"},
		{Name: "뇌출혈", Kind: models.EntityDisease, Code: "I61"},
		{Name: "뇌경색", Kind: models.EntityDisease, Code: "I63"},
		{Name: "고혈압", Kind: models.EntityDisease, Code: "I10"},
		{Name: "당뇨병", Kind: models.EntityDisease, Code: "E11", Aliases: []string{"당뇨"}},
		{Name: "갑상선암", Kind: models.EntityDisease, Code: "C73"},
		{Name: "위암", Kind: models.EntityDisease, Code: "C16"},
		{Name: "간암", Kind: models.EntityDisease, Code: "C22"},
		{Name: "폐암", Kind: models.EntityDisease, Code: "C34"},
		{Name: "유방암", Kind: models.EntityDisease, Code: "C50"},
		{Name: "대장암", Kind: models.EntityDisease, Code: "C18"},
		{Name: "소액암", Kind: models.EntityDisease},
		{Name: "암", Kind: models.EntityDisease, Aliases: []string{"악성신생물"}},
		{Name: "치매", Kind: models.EntityDisease, Code: "F03"},
		{Name: "골절", Kind: models.EntityDisease, Code: "T14.2"},

		{Name: "진단비", Kind: models.EntityCoverage, Aliases: []string{"진단금", "진단자금"}},
		{Name: "입원비", Kind: models.EntityCoverage, Aliases: []string{"입원일당", "입원급여금"}},
		{Name: "수술비", Kind: models.EntityCoverage, Aliases: []string{"수술급여금"}},
		{Name: "통원비", Kind: models.EntityCoverage, Aliases: []string{"통원치료비"}},
		{Name: "항암치료비", Kind: models.EntityCoverage, Aliases: []string{"항암약물치료비", "항암방사선치료비"}},
		{Name: "치료비", Kind: models.EntityCoverage},
		{Name: "사망보험금", Kind: models.EntityCoverage, Aliases: []string{"사망보장"}},
		{Name: "후유장해", Kind: models.EntityCoverage, Aliases: []string{"후유장애"}},
		{Name: "간병비", Kind: models.EntityCoverage, Aliases: []string{"간병인"}},

		{Name: "암보험", Kind: models.EntityProduct},
		{Name: "건강보험", Kind: models.EntityProduct},
		{Name: "실손의료보험", Kind: models.EntityProduct, Aliases: []string{"실손보험", "실비보험"}},
		{Name: "종신보험", Kind: models.EntityProduct},
		{Name: "정기보험", Kind: models.EntityProduct},
		{Name: "CI보험", Kind: models.EntityProduct, Aliases: []string{"중대질병보험"}},
		{Name: "어린이보험", Kind: models.EntityProduct, Aliases: []string{"태아보험"}},

		{Name: "기왕증", Kind: models.EntityCondition, Aliases: []string{"기존질환"}},
		{Name: "고의", Kind: models.EntityCondition, Aliases: []string{"고의적"}},
		{Name: "자해", Kind: models.EntityCondition},
		{Name: "음주운전", Kind: models.EntityCondition},
		{Name: "전쟁", Kind: models.EntityCondition},
		{Name: "임신", Kind: models.EntityCondition, Aliases: []string{"출산"}},
		{Name: "미용", Kind: models.EntityCondition, Aliases: []string{"성형"}},
	})
}
