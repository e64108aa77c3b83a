package genre

import (
	"sort"
	"testing"
)

func TestGuidance(t *testing.T) {
	text, ok := Guidance("fantasy", "epic_fantasy")
	if !ok || text == "" {
		t.Fatalf("Guidance(fantasy, epic_fantasy) = %q, %v", text, ok)
	}

	if _, ok := Guidance("fantasy", "cyberpunk"); ok {
		t.Error("mismatched subgenre accepted")
	}
	if _, ok := Guidance("western", "weird_west"); ok {
		t.Error("unknown genre accepted")
	}
}

func TestIsValid(t *testing.T) {
	if !IsValid("mystery", "noir") {
		t.Error("known combination rejected")
	}
	if IsValid("mystery", "") {
		t.Error("empty subgenre accepted")
	}
}

func TestListIsSortedAndComplete(t *testing.T) {
	genres := List()
	if len(genres) == 0 {
		t.Fatal("empty genre list")
	}

	if !sort.SliceIsSorted(genres, func(i, j int) bool { return genres[i].Name < genres[j].Name }) {
		t.Error("genres not sorted by name")
	}

	for _, g := range genres {
		if g.DisplayName == "" || len(g.Subgenres) == 0 {
			t.Errorf("genre %q incomplete: %+v", g.Name, g)
		}
		if !sort.SliceIsSorted(g.Subgenres, func(i, j int) bool { return g.Subgenres[i].Name < g.Subgenres[j].Name }) {
			t.Errorf("subgenres of %q not sorted", g.Name)
		}
		for _, sub := range g.Subgenres {
			if sub.Description == "" {
				t.Errorf("subgenre %s/%s has no description", g.Name, sub.Name)
			}
			if !IsValid(g.Name, sub.Name) {
				t.Errorf("listed combination %s/%s not valid", g.Name, sub.Name)
			}
		}
	}
}

func TestDisplayName(t *testing.T) {
	if got := displayName("science_fiction"); got != "science fiction" {
		t.Errorf("displayName = %q", got)
	}
}
