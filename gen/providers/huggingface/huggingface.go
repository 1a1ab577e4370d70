// Package huggingface adapts the HuggingFace serverless inference API. The
// endpoint answers with raw image bytes, which the adapter re-encodes as a
// data URI so the result is displayable and survives persistence.
package huggingface

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fyrean/genstudio/gen"
	"github.com/fyrean/genstudio/internal/tlsutil"
	"github.com/fyrean/genstudio/types"
)

// Config configures the adapter.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Provider is the HuggingFace adapter.
type Provider struct {
	cfg    Config
	client *http.Client
}

// New creates a HuggingFace adapter.
func New(cfg Config) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api-inference.huggingface.co/models"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 300 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = tlsutil.SecureHTTPClient(cfg.Timeout)
	}
	return &Provider{cfg: cfg, client: client}
}

func (p *Provider) Capabilities() gen.Capabilities {
	return gen.Capabilities{
		Name:           "huggingface",
		DisplayName:    "HuggingFace",
		Kind:           types.KindImage,
		RequiresAPIKey: true,
		SupportedSizes: []gen.Size{
			{Width: 512, Height: 512},
			{Width: 768, Height: 768},
			{Width: 1024, Height: 1024},
		},
		// The inference API accepts 32-bit signed seeds.
		SeedUpperBound: 1 << 31,
	}
}

func (p *Provider) DefaultParameters() types.ParameterSet {
	return types.ParameterSet{
		"promptTemplate":    "",
		"guidanceScale":     7.5,
		"numInferenceSteps": 50,
		"width":             512,
		"height":            512,
		"seed":              "",
		"batchCount":        1,
		"negativePrompt":    "",
	}
}

type inferenceParameters struct {
	GuidanceScale     float64 `json:"guidance_scale,omitempty"`
	NumInferenceSteps int     `json:"num_inference_steps,omitempty"`
	Width             int     `json:"width,omitempty"`
	Height            int     `json:"height,omitempty"`
	Seed              int64   `json:"seed"`
	NegativePrompt    string  `json:"negative_prompt,omitempty"`
}

type inferenceRequest struct {
	Inputs     string              `json:"inputs"`
	Parameters inferenceParameters `json:"parameters"`
}

// BuildRequest assembles the inference body. Seeds are always explicit on the
// wire; an omitted seed would make the batch indistinguishable server-side.
func (p *Provider) BuildRequest(apiKey, modelID string, inputs types.ParameterSet) (*gen.Request, error) {
	if modelID == "" {
		return nil, types.NewError(types.ErrValidation, "no model selected").WithProvider("huggingface")
	}

	seed, err := strconv.ParseInt(inputs.String("seed"), 10, 64)
	if err != nil {
		return nil, types.NewError(types.ErrValidation, "seed must be a whole number").WithProvider("huggingface")
	}

	body := inferenceRequest{
		Inputs: inputs.String("prompt"),
		Parameters: inferenceParameters{
			GuidanceScale:     inputs.Float64("guidanceScale"),
			NumInferenceSteps: inputs.Int("numInferenceSteps"),
			Width:             inputs.Int("width"),
			Height:            inputs.Int("height"),
			Seed:              seed,
		},
	}
	if inputs.Bool("useNegativePrompt") {
		body.Parameters.NegativePrompt = inputs.String("negativePrompt")
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, types.NewError(types.ErrValidation, "failed to encode request").WithCause(err).WithProvider("huggingface")
	}
	endpoint := fmt.Sprintf("%s/%s", strings.TrimRight(p.cfg.BaseURL, "/"), modelID)

	return &gen.Request{
		Dispatch: func(ctx context.Context) (*gen.DispatchResult, error) {
			return p.infer(ctx, apiKey, endpoint, payload)
		},
	}, nil
}

func (p *Provider) infer(ctx context.Context, apiKey, endpoint string, payload []byte) (*gen.DispatchResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewError(types.ErrTransport, "failed to create request").WithCause(err).WithProvider("huggingface")
	}
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, types.NewError(types.ErrTransport, "inference request failed").WithCause(err).WithProvider("huggingface")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.NewError(types.ErrTransport, "failed to read response").WithCause(err).WithProvider("huggingface")
	}
	if resp.StatusCode >= 400 {
		return nil, types.NewError(types.ErrProvider,
			fmt.Sprintf("inference rejected: %s", strings.TrimSpace(string(raw)))).
			WithHTTPStatus(resp.StatusCode).WithProvider("huggingface")
	}
	if len(raw) == 0 {
		return nil, types.NewError(types.ErrProvider, "inference returned an empty body").WithProvider("huggingface")
	}

	return &gen.DispatchResult{
		Sync: true,
		Result: &gen.NormalizedResult{
			Kind: types.KindImage,
			URI:  "data:image/png;base64," + base64.StdEncoding.EncodeToString(raw),
		},
	}, nil
}
