//go:build ignore

// Package main generates a synthetic document archive for load testing.
// Usage: go run scripts/generate-test-corpus.go -files 1000 -output testdata/archive
package main

import (
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

var (
	numFiles  = flag.Int("files", 1000, "Number of files to generate")
	outputDir = flag.String("output", "testdata/archive", "Output directory")
	seed      = flag.Uint64("seed", 42, "Random seed for reproducibility")
	sheetPct  = flag.Int("sheets", 20, "Percentage of spreadsheets")
)

var divisions = []string{"DG", "DRH", "DAF", "DSI", "DCOM", "DAJ", "DCOOP", "CENADI"}

// Sentences mix French and English so cross-language search has work to do.
var (
	subjects = []string{
		"Le budget annuel", "La note de service", "Le contrat de travail", "Le rapport financier",
		"La demande de congés", "The annual budget", "The employment contract", "The audit report",
		"Le procès-verbal", "The procurement plan", "La convention de partenariat", "The training schedule",
	}
	verbs = []string{
		"précise", "modifie", "annule", "confirme", "describes", "updates", "approves", "summarises",
	}
	objects = []string{
		"les dépenses de fonctionnement", "les effectifs du service", "la période d'essai",
		"les frais de mission", "the payroll calendar", "the supplier invoices",
		"the leave entitlement", "the network upgrade", "les marchés publics", "the quarterly targets",
	}
	titles = []string{
		"rapport", "note", "contrat", "budget", "conges", "proces-verbal", "convention", "planning",
	}
)

var rng *rand.Rand

func main() {
	flag.Parse()
	rng = rand.New(rand.NewPCG(*seed, *seed))

	for _, d := range divisions {
		if err := os.MkdirAll(filepath.Join(*outputDir, d), 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "Error creating division directory %s: %v\n", d, err)
			os.Exit(1)
		}
	}

	fmt.Printf("Generating %d files in %s...\n", *numFiles, *outputDir)

	generated := 0
	for i := 0; i < *numFiles; i++ {
		var err error
		if rng.IntN(100) < *sheetPct {
			err = writeSheet(i)
		} else {
			err = writeText(i)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error generating file %d: %v\n", i, err)
			continue
		}
		generated++
	}

	fmt.Printf("Generated %d files successfully.\n", generated)
}

func pick(pool []string) string {
	return pool[rng.IntN(len(pool))]
}

func sentence() string {
	return pick(subjects) + " " + pick(verbs) + " " + pick(objects) + "."
}

func docPath(index int, ext string) string {
	name := fmt.Sprintf("%s-%04d%s", pick(titles), index, ext)
	return filepath.Join(*outputDir, pick(divisions), name)
}

// writeText writes a few paragraphs; a text file is a single page.
func writeText(index int) error {
	var b strings.Builder
	for range 1 + rng.IntN(4) {
		for range 3 + rng.IntN(6) {
			b.WriteString(sentence())
			b.WriteByte(' ')
		}
		b.WriteString("\n\n")
	}
	return os.WriteFile(docPath(index, ".txt"), []byte(b.String()), 0o644)
}

// writeSheet writes a workbook with one to three sheets; each becomes a page.
func writeSheet(index int) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	for s := range 1 + rng.IntN(3) {
		name := fmt.Sprintf("Feuil%d", s+1)
		if s == 0 {
			if err := f.SetSheetName("Sheet1", name); err != nil {
				return err
			}
		} else if _, err := f.NewSheet(name); err != nil {
			return err
		}
		_ = f.SetCellValue(name, "A1", "Libellé")
		_ = f.SetCellValue(name, "B1", "Montant")
		rows := 8 + rng.IntN(15)
		for row := 2; row < rows; row++ {
			_ = f.SetCellValue(name, fmt.Sprintf("A%d", row), pick(objects))
			_ = f.SetCellValue(name, fmt.Sprintf("B%d", row), 1000+rng.IntN(900000))
		}
	}
	return f.SaveAs(docPath(index, ".xlsx"))
}
