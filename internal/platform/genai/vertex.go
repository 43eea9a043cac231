// Package genai talks to hosted generative models used as content judges.
package genai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/api/aiplatform/v1"
	"google.golang.org/api/option"

	"github.com/folioshelf/api/internal/services"
)

const defaultModel = "gemini-1.5-flash"

// VertexConfig selects the model endpoint.
type VertexConfig struct {
	ProjectID string
	Location  string
	Model     string
}

// VertexJudge evaluates prompts with Gemini on Vertex AI, sending attachments as inline data.
type VertexJudge struct {
	models *aiplatform.ProjectsLocationsPublishersModelsService
	model  string
}

// NewVertexJudge dials the regional Vertex AI endpoint. Extra client options are appended after
// the endpoint so tests can redirect it.
func NewVertexJudge(ctx context.Context, cfg VertexConfig, opts ...option.ClientOption) (*VertexJudge, error) {
	project := strings.TrimSpace(cfg.ProjectID)
	location := strings.TrimSpace(cfg.Location)
	if project == "" || location == "" {
		return nil, errors.New("genai: project and location are required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}

	clientOpts := append([]option.ClientOption{
		option.WithEndpoint(fmt.Sprintf("https://%s-aiplatform.googleapis.com/", location)),
	}, opts...)
	svc, err := aiplatform.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("genai: create vertex client: %w", err)
	}
	return &VertexJudge{
		models: svc.Projects.Locations.Publishers.Models,
		model:  fmt.Sprintf("projects/%s/locations/%s/publishers/google/models/%s", project, location, model),
	}, nil
}

// Evaluate sends the prompt followed by each attachment and returns the concatenated text of
// the first candidate.
func (j *VertexJudge) Evaluate(ctx context.Context, prompt string, attachments []services.Attachment) (string, error) {
	parts := make([]*aiplatform.GoogleCloudAiplatformV1Part, 0, len(attachments)+1)
	parts = append(parts, &aiplatform.GoogleCloudAiplatformV1Part{Text: prompt})
	for _, att := range attachments {
		parts = append(parts, &aiplatform.GoogleCloudAiplatformV1Part{
			InlineData: &aiplatform.GoogleCloudAiplatformV1Blob{
				MimeType: att.MimeType,
				Data:     base64.StdEncoding.EncodeToString(att.Data),
			},
		})
	}

	resp, err := j.models.GenerateContent(j.model, &aiplatform.GoogleCloudAiplatformV1GenerateContentRequest{
		Contents: []*aiplatform.GoogleCloudAiplatformV1Content{{Role: "user", Parts: parts}},
		GenerationConfig: &aiplatform.GoogleCloudAiplatformV1GenerationConfig{
			ResponseMimeType: "application/json",
		},
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("genai: generate content: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		reason := ""
		if resp.PromptFeedback != nil {
			reason = resp.PromptFeedback.BlockReason
		}
		return "", fmt.Errorf("genai: empty response %s", reason)
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	return b.String(), nil
}
