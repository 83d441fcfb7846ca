// Package assistant answers enumerators' field questions through an external
// generative model and degrades to canned replies when it cannot.
package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/PaulBabatuyi/fieldsync/internal/metrics"
)

// ErrUnavailable means no model is configured.
var ErrUnavailable = errors.New("assistant not configured")

// Canned replies stored as the message response when the model cannot answer.
const (
	FallbackError       = "Sorry, I'm unable to process your question at the moment. Please try again later."
	FallbackUnavailable = "AI assistant is currently unavailable. Please contact your supervisor for assistance or check the FAQ section."
)

// preamble restricts the model to field-work topics.
const preamble = `You are an AI assistant helping field enumerators with data collection issues.
Only answer questions related to:
- Field data collection procedures
- Survey questionnaire guidance
- Technical issues with the app
- Data entry best practices
- Location/GPS troubleshooting

If the question is not related to field data collection, politely decline to answer.`

// Prompt wraps a question in the domain-restriction preamble.
func Prompt(question string) string {
	return preamble + "\n\nQuestion: " + question + "\n\nAnswer:"
}

// Answerer produces an answer for a prompt.
type Answerer interface {
	Answer(ctx context.Context, prompt string) (string, error)
}

// Reply asks a for an answer to question and never fails: model errors are
// logged and replaced by the matching canned reply.
func Reply(ctx context.Context, a Answerer, question string) string {
	if a == nil {
		metrics.AssistantRequests.WithLabelValues("unavailable").Inc()
		return FallbackUnavailable
	}
	answer, err := a.Answer(ctx, Prompt(question))
	switch {
	case errors.Is(err, ErrUnavailable):
		metrics.AssistantRequests.WithLabelValues("unavailable").Inc()
		return FallbackUnavailable
	case err != nil:
		metrics.AssistantRequests.WithLabelValues("error").Inc()
		log.Warn().Err(err).Msg("assistant request failed")
		return FallbackError
	}
	metrics.AssistantRequests.WithLabelValues("ok").Inc()
	return answer
}

// Gemini calls the Generative Language REST API.
type Gemini struct {
	client *resty.Client
	apiKey string
	model  string
}

// NewGemini returns a Gemini client. An empty apiKey yields a client whose
// Answer always returns ErrUnavailable.
func NewGemini(baseURL, apiKey, model string, timeout time.Duration) *Gemini {
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)

	return &Gemini{client: c, apiKey: apiKey, model: model}
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// Answer sends prompt to the model and returns the first candidate's text.
func (g *Gemini) Answer(ctx context.Context, prompt string) (string, error) {
	if g.apiKey == "" {
		return "", ErrUnavailable
	}

	reqBody := generateRequest{Contents: []content{{Parts: []part{{Text: prompt}}}}}
	resp, err := g.client.R().
		SetContext(ctx).
		SetQueryParam("key", g.apiKey).
		SetBody(&reqBody).
		Post(fmt.Sprintf("/v1beta/models/%s:generateContent", g.model))
	if err != nil {
		return "", fmt.Errorf("gemini request: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("gemini status %d: %s", resp.StatusCode(), resp.String())
	}

	var gr generateResponse
	if err := json.Unmarshal(resp.Body(), &gr); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	var sb strings.Builder
	if len(gr.Candidates) > 0 {
		for _, p := range gr.Candidates[0].Content.Parts {
			sb.WriteString(p.Text)
		}
	}
	answer := strings.TrimSpace(sb.String())
	if answer == "" {
		return "", errors.New("gemini returned no text")
	}
	return answer, nil
}
