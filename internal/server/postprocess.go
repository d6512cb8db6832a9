package server

import "strings"

const medicalDisclaimer = "\n\n**Please note:** This information is for educational purposes only and should not replace professional medical advice. Consult with a healthcare provider for personalized medical guidance."

// stripEmoji removes the emoji blocks the model occasionally emits despite the
// prompt instructions: emoticons, symbols and pictographs, transport, regional
// indicators, miscellaneous symbols, and dingbats.
func stripEmoji(text string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 0x1F600 && r <= 0x1F64F,
			r >= 0x1F300 && r <= 0x1F5FF,
			r >= 0x1F680 && r <= 0x1F6FF,
			r >= 0x1F1E0 && r <= 0x1F1FF,
			r >= 0x2600 && r <= 0x26FF,
			r >= 0x2700 && r <= 0x27BF:
			return -1
		}
		return r
	}, text)
}

// ensureDisclaimer appends the medical disclaimer unless the text already
// points the reader at professional care.
func ensureDisclaimer(text string) string {
	if text == "" {
		return text
	}
	lowered := strings.ToLower(text)
	if strings.Contains(lowered, "consult") || strings.Contains(lowered, "healthcare professional") {
		return text
	}
	return text + medicalDisclaimer
}

// postProcessResponse is the fixed pipeline applied to every composed reply
// before it reaches the client.
func postProcessResponse(text string) string {
	return ensureDisclaimer(stripEmoji(text))
}
