package knowledge

import (
	"strings"
	"testing"
)

func TestSearchSymptomQueryIncludesAllSymptomEntries(t *testing.T) {
	result := Search("What are the symptoms of illness?")
	if len(result.Snippets) == 0 {
		t.Fatalf("expected non-empty snippets for symptom query")
	}

	for _, entry := range Entries() {
		if entry.Category != "symptoms" {
			continue
		}
		found := false
		for _, snippet := range result.Snippets {
			if snippet == entry.Text {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("expected symptoms entry %q to be included", entry.Key)
		}
	}
}

func TestSearchDietSources(t *testing.T) {
	result := Search("diet")
	if len(result.Snippets) != 1 {
		t.Fatalf("expected exactly one snippet for diet, got %d", len(result.Snippets))
	}
	assertSources(t, result.Sources, []string{"WHO", "Dietary Guidelines"})
}

func TestSearchSleepSources(t *testing.T) {
	result := Search("how much sleep do I need")
	assertSources(t, result.Sources, []string{"Sleep Foundation", "CDC"})
}

func TestSearchUnrelatedQueryUsesDefaults(t *testing.T) {
	result := Search("hello")
	if len(result.Snippets) != 0 {
		t.Fatalf("expected no snippets for unrelated query, got %v", result.Snippets)
	}
	assertSources(t, result.Sources, []string{"WHO", "CDC"})
}

func TestSearchSleepOverridesDietWhenBothMatch(t *testing.T) {
	// diet precedes sleep in the table, so a query matching both must report
	// the sleep override: the last matched override wins, no accumulation.
	result := Search("does what I eat affect my sleep")
	if len(result.Snippets) != 2 {
		t.Fatalf("expected diet and sleep snippets, got %d", len(result.Snippets))
	}
	assertSources(t, result.Sources, []string{"Sleep Foundation", "CDC"})
}

func TestSearchIsCaseInsensitive(t *testing.T) {
	result := Search("FLU Symptoms?")
	if len(result.Snippets) == 0 {
		t.Fatalf("expected matches for upper-cased query")
	}
}

func TestSearchPreventSynonymMatchesPreventionCategory(t *testing.T) {
	result := Search("how can I prevent getting sick")
	for _, snippet := range result.Snippets {
		if !strings.HasPrefix(snippet, "Prevent") {
			t.Fatalf("expected only prevention entries, got %q", snippet)
		}
	}
	if len(result.Snippets) != 2 {
		t.Fatalf("expected both prevention entries, got %d", len(result.Snippets))
	}
}

func TestSearchSeeSynonymMatchesDoctorEntry(t *testing.T) {
	result := Search("should I see someone about this")
	if len(result.Snippets) != 1 {
		t.Fatalf("expected one snippet for doctor synonym, got %d", len(result.Snippets))
	}
	if !strings.HasPrefix(result.Snippets[0], "See a doctor") {
		t.Fatalf("expected doctor entry, got %q", result.Snippets[0])
	}
}

func assertSources(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected sources %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected sources %v, got %v", want, got)
		}
	}
}
