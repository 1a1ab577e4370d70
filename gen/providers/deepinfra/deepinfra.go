// Package deepinfra adapts the DeepInfra inference API. Requests are
// synchronous: one HTTP round trip returns the finished image.
package deepinfra

import (
	"bytes"
	"context"
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

// Model ids with restricted parameter sets. FLUX-1.1-pro rejects inference
// step counts entirely; FLUX-1-schnell additionally rejects guidance scale.
const (
	modelFluxPro     = "black-forest-labs/FLUX-1.1-pro"
	modelFluxSchnell = "black-forest-labs/FLUX-1-schnell"
)

// Config configures the adapter.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Provider is the DeepInfra adapter.
type Provider struct {
	cfg    Config
	client *http.Client
}

// New creates a DeepInfra adapter.
func New(cfg Config) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.deepinfra.com/v1/inference"
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
		Name:           "deepinfra",
		DisplayName:    "DeepInfra",
		Kind:           types.KindImage,
		RequiresAPIKey: true,
		SupportedSizes: []gen.Size{
			{Width: 512, Height: 512},
			{Width: 1024, Height: 1024},
			{Width: 2048, Height: 2048},
		},
		SeedUpperBound: 1 << 62,
	}
}

func (p *Provider) DefaultParameters() types.ParameterSet {
	return types.ParameterSet{
		"promptTemplate":    "",
		"numInferenceSteps": 1,
		"width":             1024,
		"height":            1024,
		"seed":              "",
		"batchCount":        1,
		"guidanceScale":     7.5,
	}
}

type inferenceRequest struct {
	Prompt            string  `json:"prompt"`
	Width             int     `json:"width,omitempty"`
	Height            int     `json:"height,omitempty"`
	Seed              int64   `json:"seed,omitempty"`
	NumInferenceSteps int     `json:"num_inference_steps,omitempty"`
	GuidanceScale     float64 `json:"guidance_scale,omitempty"`
}

type inferenceResponse struct {
	Images []string `json:"images"`
}

// BuildRequest assembles the inference body, dropping the parameters the
// selected FLUX model refuses.
func (p *Provider) BuildRequest(apiKey, modelID string, inputs types.ParameterSet) (*gen.Request, error) {
	if modelID == "" {
		return nil, types.NewError(types.ErrValidation, "no model selected").WithProvider("deepinfra")
	}

	seed, err := strconv.ParseInt(inputs.String("seed"), 10, 64)
	if err != nil {
		return nil, types.NewError(types.ErrValidation, "seed must be a whole number").WithProvider("deepinfra")
	}

	body := inferenceRequest{
		Prompt: inputs.String("prompt"),
		Width:  inputs.Int("width"),
		Height: inputs.Int("height"),
		Seed:   seed,
	}
	if modelID != modelFluxPro {
		body.NumInferenceSteps = inputs.Int("numInferenceSteps")
		if modelID != modelFluxSchnell {
			body.GuidanceScale = inputs.Float64("guidanceScale")
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, types.NewError(types.ErrValidation, "failed to encode request").WithCause(err).WithProvider("deepinfra")
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
		return nil, types.NewError(types.ErrTransport, "failed to create request").WithCause(err).WithProvider("deepinfra")
	}
	httpReq.Header.Set("Authorization", "bearer "+apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, types.NewError(types.ErrTransport, "inference request failed").WithCause(err).WithProvider("deepinfra")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		errBody, _ := io.ReadAll(resp.Body)
		return nil, types.NewError(types.ErrProvider,
			fmt.Sprintf("inference rejected: %s", strings.TrimSpace(string(errBody)))).
			WithHTTPStatus(resp.StatusCode).WithProvider("deepinfra")
	}

	var iResp inferenceResponse
	if err := json.NewDecoder(resp.Body).Decode(&iResp); err != nil {
		return nil, types.NewError(types.ErrProvider, "failed to decode inference response").WithCause(err).WithProvider("deepinfra")
	}
	if len(iResp.Images) == 0 {
		return nil, types.NewError(types.ErrProvider, "inference returned no images").WithProvider("deepinfra")
	}

	return &gen.DispatchResult{
		Sync: true,
		Result: &gen.NormalizedResult{
			Kind: types.KindImage,
			URI:  iResp.Images[0],
		},
	}, nil
}
