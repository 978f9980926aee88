package lablaudo

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// rule is a named predicate, rule tables are evaluated in order and a match on any
// rule is enough.
type rule[T any] struct {
	name  string
	match func(T) bool
}

// firstMatch returns the name of the first rule in `table` matching `value`.
func firstMatch[T any](table []rule[T], value T) (string, bool) {
	for _, r := range table {
		if r.match(value) {
			return r.name, true
		}
	}
	return "", false
}

func containsAny(s string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}

func stripWhitespace(s string) string {
	return strings.Join(strings.Fields(s), "")
}

var postLoginMarkers = []string{
	"logout", "sair", "resultados", "results", "bem-vindo",
	"welcome", "dashboard", "painel", "exames", "laudos",
}

// loginSuccessRules run against the lowercased body of the login response.
var loginSuccessRules = []rule[string]{
	{
		name: "post-login-marker",
		match: func(body string) bool {
			return containsAny(body, postLoginMarkers)
		},
	},
	{
		// known quirk: this holds unless both tokens are present, a page that only
		// says "login" still counts as being past the login page.
		name: "not-on-login-page",
		match: func(body string) bool {
			return !strings.Contains(body, "entrar") || !strings.Contains(body, "login")
		},
	},
}

var (
	greenStyleTokens        = []string{"green", "#00ff00", "#0f0", "rgb(0,255,0)"}
	greenCompactStyleTokens = []string{"background-color:green"}
	greenClassTokens        = []string{"green", "success", "ready", "disponivel"}
	greenBgcolorTokens      = []string{"green", "#8ff08f"}
	greenCellTextTokens     = []string{"disponivel", "pronto", "liberado", "concluido"}
)

func lowerAttr(sel *goquery.Selection, name string) string {
	return strings.ToLower(sel.AttrOr(name, ""))
}

func isGreenStyle(style string) bool {
	return containsAny(style, greenStyleTokens) ||
		containsAny(stripWhitespace(style), greenCompactStyleTokens)
}

var cellGreenRules = []rule[*goquery.Selection]{
	{
		name: "cell-style",
		match: func(cell *goquery.Selection) bool {
			return isGreenStyle(lowerAttr(cell, "style"))
		},
	},
	{
		name: "cell-class",
		match: func(cell *goquery.Selection) bool {
			return containsAny(lowerAttr(cell, "class"), greenClassTokens)
		},
	},
	{
		name: "cell-text",
		match: func(cell *goquery.Selection) bool {
			text := strings.ToLower(strings.TrimSpace(cell.Text()))
			return containsAny(text, greenCellTextTokens)
		},
	},
}

var rowGreenRules = []rule[*goquery.Selection]{
	{
		name: "row-style",
		match: func(row *goquery.Selection) bool {
			return isGreenStyle(lowerAttr(row, "style"))
		},
	},
	{
		name: "row-class",
		match: func(row *goquery.Selection) bool {
			return containsAny(lowerAttr(row, "class"), greenClassTokens)
		},
	},
	{
		name: "row-bgcolor",
		match: func(row *goquery.Selection) bool {
			return containsAny(lowerAttr(row, "bgcolor"), greenBgcolorTokens)
		},
	},
	{
		name: "cell",
		match: func(row *goquery.Selection) bool {
			green := false
			row.Find("td").EachWithBreak(func(_ int, cell *goquery.Selection) bool {
				_, green = firstMatch(cellGreenRules, cell)
				return !green
			})
			return green
		},
	},
}

// rowExclusionRules name the rows that are not result entries.
var rowExclusionRules = []rule[*goquery.Selection]{
	{
		name: "header",
		match: func(row *goquery.Selection) bool {
			return row.Find("th").Length() > 0
		},
	},
	{
		name: "no-data-cells",
		match: func(row *goquery.Selection) bool {
			return row.Find("td").Length() == 0
		},
	},
	{
		name: "action-or-signature",
		match: func(row *goquery.Selection) bool {
			return containsAny(strings.ToLower(row.Text()), []string{"visualizar laudo", "assinatura"})
		},
	},
}

// qualifyingRows lists every result entry row of the page.
func qualifyingRows(doc *goquery.Document) []*goquery.Selection {
	var rows []*goquery.Selection
	doc.Find("tr").Each(func(_ int, row *goquery.Selection) {
		if _, excluded := firstMatch(rowExclusionRules, row); excluded {
			return
		}
		rows = append(rows, row)
	})
	return rows
}

func isRowGreen(row *goquery.Selection) bool {
	_, green := firstMatch(rowGreenRules, row)
	return green
}
