package server

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"healthmate/backend/internal/config"
)

const (
	fallbackUnconfiguredText = "I'm currently unable to access my full knowledge base. Please consult with a healthcare professional for medical advice."
	fallbackUpstreamText     = "I'm experiencing technical difficulties. Please try again later or consult with a healthcare professional for urgent matters."
	fallbackEmptyAnswerText  = "I'm unable to provide a response at this time."
)

var (
	fallbackSources = []string{"Healthcare Professional Recommended"}
	composedSources = []string{"Gemini AI", "WHO", "CDC", "Medical Literature"}
)

type ComposeResult struct {
	Response string
	Sources  []string
}

// Composer turns a user message plus optional knowledge snippets into an
// assistant reply. Implementations absorb upstream failures: Compose always
// returns usable text, degrading to fixed fallback copy instead of erroring.
type Composer interface {
	Compose(ctx context.Context, message string, snippets []string) ComposeResult
}

// GeminiComposer calls the Gemini generateContent API. With no API key the
// client stays nil and Compose short-circuits to the deterministic fallback
// without touching the network.
type GeminiComposer struct {
	client          *genai.Client
	model           string
	maxOutputTokens int32
	timeout         time.Duration
}

func NewGeminiComposer(ctx context.Context, cfg config.Config) (*GeminiComposer, error) {
	composer := &GeminiComposer{
		model:           strings.TrimSpace(cfg.GeminiModel),
		maxOutputTokens: int32(cfg.AIMaxOutputTokens),
		timeout:         time.Duration(cfg.AITimeoutSeconds) * time.Second,
	}
	if composer.model == "" {
		composer.model = "gemini-1.5-flash-latest"
	}
	if composer.maxOutputTokens <= 0 {
		composer.maxOutputTokens = 1024
	}
	if composer.timeout <= 0 {
		composer.timeout = 20 * time.Second
	}

	apiKey := strings.TrimSpace(cfg.GeminiAPIKey)
	if apiKey == "" {
		log.Println("GEMINI_API_KEY not set, chat responses will use fallback copy")
		return composer, nil
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("init gemini client: %w", err)
	}
	composer.client = client
	return composer, nil
}

func (g *GeminiComposer) Close() {
	if g.client != nil {
		_ = g.client.Close()
	}
}

func (g *GeminiComposer) Compose(ctx context.Context, message string, snippets []string) ComposeResult {
	if g.client == nil {
		return ComposeResult{
			Response: fallbackUnconfiguredText,
			Sources:  fallbackSources,
		}
	}

	model := g.client.GenerativeModel(g.model)
	model.SetTemperature(0.3)
	model.SetTopK(40)
	model.SetTopP(0.95)
	model.SetMaxOutputTokens(g.maxOutputTokens)
	model.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockMediumAndAbove},
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockMediumAndAbove},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockMediumAndAbove},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockMediumAndAbove},
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := model.GenerateContent(callCtx, genai.Text(buildHealthPrompt(message, snippets)))
	if err != nil {
		log.Printf("gemini generateContent failed: %v", err)
		return ComposeResult{
			Response: fallbackUpstreamText,
			Sources:  fallbackSources,
		}
	}

	answer := extractCandidateText(resp)
	if answer == "" {
		answer = fallbackEmptyAnswerText
	}
	return ComposeResult{
		Response: answer,
		Sources:  composedSources,
	}
}

func buildHealthPrompt(message string, snippets []string) string {
	return fmt.Sprintf(`You are a helpful AI health assistant that provides accurate medical information from trusted sources like WHO and CDC.

IMPORTANT INSTRUCTIONS:
- Do NOT use any emojis in your response
- Format your response using markdown for better readability (use **bold**, *italic*, bullet points, etc.)
- Provide clear, concise, and professional medical information
- Always include appropriate medical disclaimers

Context from health database:
%s

User question: %s

Please provide a helpful, accurate response based on the context above. If the context doesn't contain relevant information, provide general health guidance and recommend consulting healthcare professionals. Format your response in markdown without using any emojis.

Response:`, strings.Join(snippets, "\n"), message)
}

func extractCandidateText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var builder strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			builder.WriteString(string(text))
		}
	}
	return strings.TrimSpace(builder.String())
}
