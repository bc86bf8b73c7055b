// Package translate holds the French/English domain vocabulary used to
// bridge queries and pages written in different languages.
package translate

import "strings"

// pairs maps a lower-cased term to its translations. French terms come
// first, English terms after; where a term appears in both halves the
// English entry wins.
var pairs = buildTable(
	// French to English
	[]entry{
		{"loi", []string{"law", "act", "legislation"}},
		{"finances", []string{"finance", "financial", "budget", "fiscal"}},
		{"budget", []string{"budget", "budgetary"}},
		{"décret", []string{"decree", "order", "regulation"}},
		{"arrêté", []string{"order", "decree", "ruling"}},
		{"contrat", []string{"contract", "agreement"}},
		{"accord", []string{"agreement", "accord", "treaty"}},
		{"prêt", []string{"loan", "lending"}},
		{"emprunt", []string{"loan", "borrowing"}},
		{"rapport", []string{"report", "statement"}},
		{"procédure", []string{"procedure", "process"}},
		{"règlement", []string{"regulation", "settlement", "rule"}},
		{"impôt", []string{"tax", "taxation"}},
		{"taxe", []string{"tax", "fee", "duty"}},
		{"trésor", []string{"treasury", "treasure"}},
		{"dette", []string{"debt", "liability"}},
		{"créance", []string{"receivable", "claim", "debt"}},
		{"dépense", []string{"expense", "expenditure", "spending"}},
		{"recette", []string{"revenue", "income", "receipt"}},
		{"exercice", []string{"fiscal year", "exercise", "financial year"}},
		{"bilan", []string{"balance sheet", "assessment", "review"}},
		{"comptabilité", []string{"accounting", "bookkeeping"}},
		{"audit", []string{"audit", "review"}},
		{"ministère", []string{"ministry", "department"}},
		{"gouvernement", []string{"government", "administration"}},
		{"république", []string{"republic"}},
		{"cameroun", []string{"cameroon"}},
		{"document", []string{"document", "file", "record"}},
		{"dossier", []string{"file", "folder", "case"}},
		{"administration", []string{"administration", "management"}},
		{"direction", []string{"directorate", "department", "direction"}},
		{"service", []string{"service", "department"}},
	},
	// English to French
	[]entry{
		{"law", []string{"loi", "droit", "législation"}},
		{"finance", []string{"finances", "financier", "budget"}},
		{"budget", []string{"budget", "budgétaire"}},
		{"decree", []string{"décret", "arrêté"}},
		{"loan", []string{"prêt", "emprunt"}},
		{"agreement", []string{"accord", "contrat", "convention"}},
		{"report", []string{"rapport", "compte-rendu"}},
		{"tax", []string{"impôt", "taxe", "fiscal"}},
		{"treasury", []string{"trésor", "trésorerie"}},
		{"ministry", []string{"ministère"}},
		{"government", []string{"gouvernement"}},
	},
)

type entry struct {
	term         string
	translations []string
}

func buildTable(groups ...[]entry) map[string][]string {
	table := make(map[string][]string)
	for _, group := range groups {
		for _, e := range group {
			table[e.term] = e.translations
		}
	}
	return table
}

// Lookup returns the translations of term, or nil if the term is unknown.
// The term is matched case-insensitively. The returned slice is a copy.
func Lookup(term string) []string {
	t, ok := pairs[strings.ToLower(term)]
	if !ok {
		return nil
	}
	out := make([]string, len(t))
	copy(out, t)
	return out
}

// Size returns the number of terms in the table.
func Size() int {
	return len(pairs)
}

// Tokenize lower-cases query and splits it on whitespace.
func Tokenize(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// Expand returns the translations of every term followed by the terms
// themselves, without duplicates.
func Expand(terms []string) []string {
	seen := make(map[string]struct{}, len(terms)*3)
	out := make([]string, 0, len(terms)*3)

	add := func(s string) {
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}

	for _, term := range terms {
		for _, tr := range pairs[strings.ToLower(term)] {
			add(tr)
		}
	}
	for _, term := range terms {
		add(strings.ToLower(term))
	}
	return out
}
