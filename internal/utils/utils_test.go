package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNormalizeTitle(t *testing.T) {
	cases := map[string]string{
		"Amélie":                              "amelie",
		"  The Lord of the Rings:  ":          "the lord of the rings",
		"Law & Order":                         "law and order",
		"WALL·E":                              "wall e",
		"Spider-Man: Across the Spider-Verse": "spider man across the spider verse",
	}
	for input, want := range cases {
		if got := NormalizeTitle(input); got != want {
			t.Errorf("NormalizeTitle(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestTitleSimilarity(t *testing.T) {
	if s := TitleSimilarity("Amélie", "Amelie"); s != 1 {
		t.Errorf("Expected accent-insensitive match, got %f", s)
	}
	if s := TitleSimilarity("The Matrix", "The Matrix Reloaded"); s >= MinTitleSimilarity {
		t.Errorf("Expected sequel to score below threshold, got %f", s)
	}
	if s := TitleSimilarity("", ""); s != 1 {
		t.Errorf("Expected identical empty titles to match, got %f", s)
	}
}

func TestBestCandidatePrefersYear(t *testing.T) {
	candidates := []Candidate{
		{Title: "Dune", Year: 1984, Index: 0},
		{Title: "Dune", Year: 2021, Index: 1},
		{Title: "Dune: Part Two", Year: 2024, Index: 2},
	}

	idx, ok := BestCandidate("Dune", 2021, candidates)
	if !ok || idx != 1 {
		t.Errorf("Expected the 2021 result, got %d (%v)", idx, ok)
	}

	if _, ok := BestCandidate("Arrival", 2016, candidates); ok {
		t.Error("Expected no match for an unrelated title")
	}
}

func TestExtractYear(t *testing.T) {
	if y := ExtractYear("Heat (1995)"); y != 1995 {
		t.Errorf("Expected 1995, got %d", y)
	}
	if y := ExtractYear("No year here"); y != 0 {
		t.Errorf("Expected 0, got %d", y)
	}
}

func TestIgnoreList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ignore.txt")
	content := "# never sync these\ntt0111161\n\nThe Room\ntrakt:42\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write ignore file: %v", err)
	}

	list, err := LoadIgnoreList(path)
	if err != nil {
		t.Fatalf("Failed to load ignore list: %v", err)
	}
	if list.Len() != 3 {
		t.Errorf("Expected 3 entries, got %d", list.Len())
	}

	if ok, entry := list.Match("", "tt0111161"); !ok || entry != "tt0111161" {
		t.Errorf("Expected IMDb ID match, got %v %q", ok, entry)
	}
	if ok, _ := list.Match("the room"); !ok {
		t.Error("Expected case-insensitive title match")
	}
	if ok, _ := list.Match("Other", "trakt:42"); !ok {
		t.Error("Expected prefixed ID match")
	}
	if ok, _ := list.Match("Room", "tt1"); ok {
		t.Error("Expected no match for partial title")
	}
}

func TestLoadIgnoreListMissingFile(t *testing.T) {
	list, err := LoadIgnoreList(filepath.Join(t.TempDir(), "missing.txt"))
	if err != nil || list.Len() != 0 {
		t.Errorf("Expected empty list for a missing file, got %v %v", list.Len(), err)
	}
}
