package personalize

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/propertypulse/campaign-engine/internal/domain"
	"github.com/propertypulse/campaign-engine/internal/pkg/logger"
)

// BedrockScorer scores subject lines with an AWS Bedrock model. All data
// stays within AWS. Scores are cached per subject text, and any model
// failure degrades to the deterministic heuristic scorer so sends never
// block on the model.
type BedrockScorer struct {
	client   *bedrockruntime.Client
	modelID  string
	fallback HeuristicScorer

	mu    sync.Mutex
	cache map[string]float64
}

// bedrockRequest is the Anthropic-on-Bedrock invoke payload.
type bedrockRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	System           string           `json:"system,omitempty"`
	Messages         []bedrockMessage `json:"messages"`
	Temperature      float64          `json:"temperature,omitempty"`
}

type bedrockMessage struct {
	Role    string         `json:"role"`
	Content []bedrockBlock `json:"content"`
}

type bedrockBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type bedrockResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

const scorerSystemPrompt = `You score email subject lines for a real-estate
marketing platform. Reply with only a number between 0 and 1 estimating the
open-rate potential of the subject line for the described recipient.`

// NewBedrockScorer creates a Bedrock-backed subject scorer for the given
// region and model.
func NewBedrockScorer(ctx context.Context, region, modelID string) (*BedrockScorer, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &BedrockScorer{
		client:  bedrockruntime.NewFromConfig(cfg),
		modelID: modelID,
		cache:   make(map[string]float64),
	}, nil
}

// Score implements SubjectScorer.
func (b *BedrockScorer) Score(subject string, r domain.Recipient) float64 {
	b.mu.Lock()
	if score, ok := b.cache[subject]; ok {
		b.mu.Unlock()
		return score
	}
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	score, err := b.invoke(ctx, subject, r)
	if err != nil {
		logger.Warn("bedrock subject scoring failed, using heuristic",
			"error", err.Error())
		return b.fallback.Score(subject, r)
	}

	b.mu.Lock()
	b.cache[subject] = score
	b.mu.Unlock()
	return score
}

func (b *BedrockScorer) invoke(ctx context.Context, subject string, r domain.Recipient) (float64, error) {
	prompt := fmt.Sprintf("Recipient location: %s. Subject line: %q", r.Location, subject)
	body, err := json.Marshal(bedrockRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        16,
		System:           scorerSystemPrompt,
		Messages: []bedrockMessage{{
			Role:    "user",
			Content: []bedrockBlock{{Type: "text", Text: prompt}},
		}},
	})
	if err != nil {
		return 0, fmt.Errorf("marshal request: %w", err)
	}

	output, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return 0, fmt.Errorf("bedrock invoke: %w", err)
	}

	var resp bedrockResponse
	if err := json.Unmarshal(output.Body, &resp); err != nil {
		return 0, fmt.Errorf("parse response: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	score, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		return 0, fmt.Errorf("non-numeric model reply %q", text)
	}
	if score < 0 || score > 1 {
		return 0, fmt.Errorf("score %f out of range", score)
	}
	return score, nil
}
