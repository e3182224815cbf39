// Package annotate extracts structured insights for collected videos through
// the OpenAI API. The model's output is not trusted to be well-formed JSON:
// parsing is layered with one bounded repair attempt and a low-confidence
// placeholder fallback so a bad payload never fails the whole item.
package annotate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"github.com/cesargomez89/tubecrate/internal/constants"
	"github.com/cesargomez89/tubecrate/internal/domain"
	"github.com/cesargomez89/tubecrate/internal/logger"
	"github.com/cesargomez89/tubecrate/internal/retry"
)

// ErrUnparsable marks annotator output that stayed malformed after the
// repair attempt. The returned Annotation still carries a placeholder.
var ErrUnparsable = errors.New("annotator output unparsable")

const taskInstruction = `You analyze YouTube video metadata for a drum-video library.
Given a video's title, description and tags, extract:
- roles: a map of creator roles to names (e.g. "drummer", "artist", "band"); omit unknown roles
- lyrics: the full lyrics if present in the description, otherwise empty
- gear: drum and cymbal gear mentioned (kit, snare, cymbals, heads, sticks)
- themes: musical themes or genres (e.g. "metal", "gospel chops", "cover")
- confidence: how certain you are overall, 0.0 to 1.0
Answer with a single JSON object only.`

// insightPayload is the wire shape asked of the model. The schema derived
// from it forbids additional properties.
type insightPayload struct {
	Roles      map[string]string `json:"roles" jsonschema_description:"Creator role to name"`
	Lyrics     string            `json:"lyrics" jsonschema_description:"Full lyrics when present, else empty"`
	Gear       []string          `json:"gear" jsonschema_description:"Drum gear mentioned"`
	Themes     []string          `json:"themes" jsonschema_description:"Musical themes or genres"`
	Confidence float64           `json:"confidence" jsonschema_description:"Overall certainty in [0,1]"`
}

var insightSchema = generateSchema[insightPayload]()

// Annotation is the outcome of one annotation attempt. Failure is set, and
// Insight holds a placeholder, when the output could not be parsed.
type Annotation struct {
	Insight  *domain.Insight
	Repaired bool
	Failure  string
}

type Annotator struct {
	Model  string
	Retry  retry.Policy
	Logger *logger.Logger

	client openai.Client
}

func New(apiKey, model string, log *logger.Logger) *Annotator {
	return &Annotator{
		Model:  model,
		Retry:  retry.Default(),
		Logger: log.WithComponent("annotate"),
		client: openai.NewClient(option.WithAPIKey(apiKey)),
	}
}

// Annotate asks the model for a structured insight on one video. Provider
// rate limits and server errors are retried through the backoff policy; an
// error return means the call itself failed. A malformed payload is not an
// error here: the Annotation carries a placeholder and the parse failure.
func (a *Annotator) Annotate(ctx context.Context, v *domain.Video) (*Annotation, error) {
	params := responses.ResponseNewParams{
		Model:           a.Model,
		MaxOutputTokens: openai.Int(constants.AnnotateMaxTokens),
		Temperature:     openai.Float(constants.AnnotateTemperature),
		Instructions:    openai.String(taskInstruction),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: []responses.ResponseInputItemUnionParam{
				responses.ResponseInputItemParamOfMessage(buildInput(v), responses.EasyInputMessageRoleUser),
			},
		},
		Text: responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigUnionParam{
				OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
					Name:   "video_insight",
					Schema: insightSchema,
					Strict: openai.Bool(true),
					Type:   "json_schema",
				},
			},
		},
	}

	policy := a.Retry
	policy.Retryable = retryableProviderError

	resp, err := retry.Do(ctx, policy, func() (*responses.Response, error) {
		return a.client.Responses.New(ctx, params)
	})
	if err != nil {
		return nil, fmt.Errorf("annotate %s: %w", v.ID, err)
	}

	raw := resp.OutputText()
	payload, repaired, err := parseInsight(raw)
	if err != nil {
		a.Logger.WithVideo(v.ID, v.Title).Warn("annotator output unparsable",
			"error", err, "output_prefix", truncate(raw, 120))
		return &Annotation{
			Insight: placeholder(a.Model),
			Failure: err.Error(),
		}, nil
	}

	ins := payload.toInsight(a.Model)
	if repaired {
		// Repair guesses where truncated fields end; never promote a
		// repaired payload to clean-parse confidence.
		if ins.Confidence > constants.RepairedConfidenceCap {
			ins.Confidence = constants.RepairedConfidenceCap
		}
		a.Logger.WithVideo(v.ID, v.Title).Debug("annotator output repaired",
			"confidence", ins.Confidence)
	}
	return &Annotation{Insight: ins, Repaired: repaired}, nil
}

func (p *insightPayload) toInsight(model string) *domain.Insight {
	conf := p.Confidence
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return &domain.Insight{
		Roles:      p.Roles,
		Lyrics:     p.Lyrics,
		Gear:       p.Gear,
		Themes:     p.Themes,
		Confidence: conf,
		AnalyzedAt: time.Now().UTC(),
		Model:      model,
	}
}

// placeholder is the degraded insight attached when parsing failed outright.
func placeholder(model string) *domain.Insight {
	return &domain.Insight{
		Confidence: constants.PlaceholderConfidence,
		AnalyzedAt: time.Now().UTC(),
		Model:      model,
	}
}

func buildInput(v *domain.Video) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", v.Title)
	if v.ChannelTitle != "" {
		fmt.Fprintf(&b, "Channel: %s\n", v.ChannelTitle)
	}
	if len(v.Tags) > 0 {
		fmt.Fprintf(&b, "Tags: %s\n", strings.Join(v.Tags, ", "))
	}
	if v.Description != "" {
		fmt.Fprintf(&b, "Description:\n%s\n", v.Description)
	}
	return b.String()
}

// retryableProviderError retries rate limits and server-side failures. The
// SDK surfaces both through its error string.
func retryableProviderError(err error) bool {
	if retry.Transient(err) {
		return true
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429"), strings.Contains(msg, "rate limit"), strings.Contains(msg, "too many requests"):
		return true
	case strings.Contains(msg, "500"), strings.Contains(msg, "502"), strings.Contains(msg, "503"), strings.Contains(msg, "server_error"):
		return true
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func generateSchema[T any]() map[string]interface{} {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties:  false,
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	var v T
	schema := reflector.Reflect(v)

	b, err := schema.MarshalJSON()
	if err != nil {
		panic(err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		panic(err)
	}
	requireAllProperties(m)
	return m
}

// requireAllProperties marks every declared property required and forbids
// extras, recursively, as the strict structured-output mode demands.
func requireAllProperties(schema map[string]interface{}) {
	if t, ok := schema["type"].(string); ok && t == "object" {
		schema["additionalProperties"] = false
		if props, ok := schema["properties"].(map[string]interface{}); ok {
			var required []string
			for name := range props {
				required = append(required, name)
			}
			if len(required) > 0 {
				schema["required"] = required
			}
		}
	}

	if props, ok := schema["properties"].(map[string]interface{}); ok {
		for _, p := range props {
			if pm, ok := p.(map[string]interface{}); ok {
				requireAllProperties(pm)
			}
		}
	}
	if items, ok := schema["items"].(map[string]interface{}); ok {
		requireAllProperties(items)
	}
	if extra, ok := schema["additionalProperties"].(map[string]interface{}); ok {
		requireAllProperties(extra)
	}
}
