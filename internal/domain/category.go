package domain

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Category is a member of the closed category vocabulary.
type Category string

const (
	CategoryFood        Category = "Food"
	CategoryTransport   Category = "Transport"
	CategoryHousing     Category = "Housing"
	CategoryHealth      Category = "Health"
	CategoryEducation   Category = "Education"
	CategoryLeisure     Category = "Leisure"
	CategoryShopping    Category = "Shopping"
	CategoryBills       Category = "Bills"
	CategoryServices    Category = "Services"
	CategoryInvestments Category = "Investments"
	CategorySalary      Category = "Salary"
	CategoryGifts       Category = "Gifts"
	CategoryOther       Category = "Other"
)

// Categories lists the vocabulary in prompt order. Other is always last.
var Categories = []Category{
	CategoryFood,
	CategoryTransport,
	CategoryHousing,
	CategoryHealth,
	CategoryEducation,
	CategoryLeisure,
	CategoryShopping,
	CategoryBills,
	CategoryServices,
	CategoryInvestments,
	CategorySalary,
	CategoryGifts,
	CategoryOther,
}

// PortugueseLabels are the labels shown to users of the app and accepted from
// models prompted in Portuguese.
var PortugueseLabels = map[Category]string{
	CategoryFood:        "Alimentação",
	CategoryTransport:   "Transporte",
	CategoryHousing:     "Moradia",
	CategoryHealth:      "Saúde",
	CategoryEducation:   "Educação",
	CategoryLeisure:     "Lazer",
	CategoryShopping:    "Compras",
	CategoryBills:       "Contas",
	CategoryServices:    "Serviços",
	CategoryInvestments: "Investimentos",
	CategorySalary:      "Salário",
	CategoryGifts:       "Presentes",
	CategoryOther:       "Outros",
}

var categoryLookup = buildCategoryLookup()

func buildCategoryLookup() map[string]Category {
	m := make(map[string]Category, len(Categories)*2)
	for _, c := range Categories {
		m[normalizeLabel(string(c))] = c
		m[normalizeLabel(PortugueseLabels[c])] = c
	}
	return m
}

// ParseCategory resolves an English or Portuguese category label, ignoring case
// and accents. Unknown labels collapse to CategoryOther.
func ParseCategory(s string) Category {
	if c, ok := categoryLookup[normalizeLabel(s)]; ok {
		return c
	}
	return CategoryOther
}

// Valid reports whether c is part of the vocabulary.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// normalizeLabel lowercases, trims and strips diacritics so that
// "Saúde", "SAUDE" and " saude " compare equal.
func normalizeLabel(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, strings.TrimSpace(s))
	if err != nil {
		out = strings.TrimSpace(s)
	}
	return strings.ToLower(out)
}
