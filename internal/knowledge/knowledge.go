// Package knowledge implements the static health-information lookup used to
// ground assistant replies. The table is fixed at build time; Search is a pure
// function over it.
package knowledge

import "strings"

type Entry struct {
	Category string
	Key      string
	Text     string
}

// Result carries the matched snippets in table order plus the source labels to
// attribute the answer to.
type Result struct {
	Snippets []string
	Sources  []string
}

// Entry order matters: when more than one source-overriding entry matches, the
// override of the entry visited last wins.
var entries = []Entry{
	{
		Category: "symptoms",
		Key:      "flu",
		Text:     "Common flu symptoms include fever, chills, muscle aches, cough, congestion, runny nose, headaches, and fatigue. Symptoms typically last 3-7 days.",
	},
	{
		Category: "symptoms",
		Key:      "covid",
		Text:     "COVID-19 symptoms may include fever, cough, shortness of breath, fatigue, muscle aches, headache, loss of taste or smell, sore throat, and congestion.",
	},
	{
		Category: "symptoms",
		Key:      "dehydration",
		Text:     "Signs of dehydration include thirst, dry mouth, little or no urination, dark-colored urine, fatigue, dizziness, and confusion.",
	},
	{
		Category: "prevention",
		Key:      "covid",
		Text:     "Prevent COVID-19 by getting vaccinated, wearing masks in crowded areas, maintaining social distance, washing hands frequently, and avoiding large gatherings.",
	},
	{
		Category: "prevention",
		Key:      "flu",
		Text:     "Prevent flu by getting annual flu vaccination, washing hands regularly, avoiding close contact with sick people, and maintaining good health habits.",
	},
	{
		Category: "general",
		Key:      "diet",
		Text:     "A healthy diet includes fruits, vegetables, whole grains, lean proteins, and limited processed foods. Aim for 5-9 servings of fruits and vegetables daily.",
	},
	{
		Category: "general",
		Key:      "sleep",
		Text:     "Adults need 7-9 hours of sleep per night. Good sleep hygiene includes consistent bedtime, comfortable environment, and avoiding screens before bed.",
	},
	{
		Category: "general",
		Key:      "doctor",
		Text:     "See a doctor if you have persistent symptoms, high fever, difficulty breathing, chest pain, severe headache, or any concerning health changes.",
	},
}

var defaultSources = []string{"WHO", "CDC"}

// Search scans every entry against the lower-cased query and returns all
// matches. A query with no hits yields empty snippets and the default sources.
func Search(query string) Result {
	lowered := strings.ToLower(query)
	snippets := make([]string, 0, 2)
	sources := defaultSources

	for _, entry := range entries {
		if !entryMatches(entry, lowered) {
			continue
		}
		snippets = append(snippets, entry.Text)
		switch entry.Key {
		case "diet":
			sources = []string{"WHO", "Dietary Guidelines"}
		case "sleep":
			sources = []string{"Sleep Foundation", "CDC"}
		}
	}

	result := Result{
		Snippets: snippets,
		Sources:  make([]string, len(sources)),
	}
	copy(result.Sources, sources)
	return result
}

func entryMatches(entry Entry, loweredQuery string) bool {
	if strings.Contains(loweredQuery, entry.Key) {
		return true
	}
	switch entry.Category {
	case "symptoms":
		if strings.Contains(loweredQuery, "symptom") {
			return true
		}
	case "prevention":
		if strings.Contains(loweredQuery, "prevent") {
			return true
		}
	}
	switch entry.Key {
	case "diet":
		return strings.Contains(loweredQuery, "diet") || strings.Contains(loweredQuery, "eat")
	case "sleep":
		return strings.Contains(loweredQuery, "sleep")
	case "doctor":
		return strings.Contains(loweredQuery, "doctor") || strings.Contains(loweredQuery, "see")
	}
	return false
}

// Entries exposes the immutable table for diagnostics and tests.
func Entries() []Entry {
	copied := make([]Entry, len(entries))
	copy(copied, entries)
	return copied
}
