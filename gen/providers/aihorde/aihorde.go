// Package aihorde adapts the AI Horde crowdsourced image generation API. The
// Horde is asynchronous: a submission returns a request id, and progress is
// observed via cheap check probes until the finished images can be fetched.
package aihorde

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fyrean/genstudio/gen"
	"github.com/fyrean/genstudio/internal/tlsutil"
	"github.com/fyrean/genstudio/types"
)

// CommunityKey is the sentinel API key that routes submissions through the
// community relay instead of directly to the Horde.
const CommunityKey = "communitykey"

// Config configures the adapter.
type Config struct {
	// BaseURL is the Horde API root.
	BaseURL string

	// RelayURL is the community relay root used when the key is CommunityKey.
	RelayURL string

	Timeout time.Duration

	// HTTPClient overrides the default secure client, for tests.
	HTTPClient *http.Client
}

// Provider is the AI Horde adapter.
type Provider struct {
	cfg    Config
	client *http.Client
}

// New creates an AI Horde adapter.
func New(cfg Config) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://aihorde.net/api/v2"
	}
	if cfg.RelayURL == "" {
		cfg.RelayURL = "https://relay.fyrean.com"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = tlsutil.SecureHTTPClient(cfg.Timeout)
	}
	return &Provider{cfg: cfg, client: client}
}

func (p *Provider) Capabilities() gen.Capabilities {
	return gen.Capabilities{
		Name:                "aihorde",
		DisplayName:         "AI Horde",
		Kind:                types.KindImage,
		RequiresAPIKey:      true,
		SupportsInpainting:  true,
		SupportsOutpainting: true,
		SupportedSizes: []gen.Size{
			{Width: 512, Height: 512},
			{Width: 512, Height: 768},
			{Width: 768, Height: 512},
			{Width: 1024, Height: 1024},
		},
		SeedUpperBound: 1 << 31,
		SharedQueue:    true,
	}
}

func (p *Provider) DefaultParameters() types.ParameterSet {
	return types.ParameterSet{
		"promptTemplate":            "",
		"negativePrompt":            "",
		"steps":                     30,
		"cfgScale":                  7.5,
		"width":                     512,
		"height":                    512,
		"sampler":                   "k_euler_a",
		"seed":                      "",
		"batchCount":                1,
		"denoisingStrength":         0.75,
		"karras":                    true,
		"hiresFix":                  false,
		"hiresFixDenoisingStrength": 0.7,
		"faceFixer":                 "None",
		"facefixerStrength":         0.75,
		"upscaler":                  "None",
		"stripBackground":           false,
		"clipSkip":                  1,
		"nsfw":                      false,
		"trustedWorkers":            false,
		"shared":                    false,
		"sourceProcessing":          "txt2img",
		"tiling":                    false,
		"transparent":               false,
		"replacementFilter":         true,
		"slowWorkers":               false,
	}
}

type submitParams struct {
	SamplerName              string   `json:"sampler_name,omitempty"`
	CFGScale                 float64  `json:"cfg_scale,omitempty"`
	Width                    int      `json:"width,omitempty"`
	Height                   int      `json:"height,omitempty"`
	Steps                    int      `json:"steps,omitempty"`
	Seed                     string   `json:"seed,omitempty"`
	N                        int      `json:"n"`
	PostProcessing           []string `json:"post_processing"`
	Karras                   bool     `json:"karras"`
	Tiling                   bool     `json:"tiling"`
	HiresFix                 bool     `json:"hires_fix"`
	HiresFixDenoisingStrgth  float64  `json:"hires_fix_denoising_strength,omitempty"`
	ClipSkip                 int      `json:"clip_skip,omitempty"`
	DenoisingStrength        float64  `json:"denoising_strength,omitempty"`
	FacefixerStrength        float64  `json:"facefixer_strength,omitempty"`
	ControlType              string   `json:"control_type,omitempty"`
	ImageIsControl           bool     `json:"image_is_control,omitempty"`
	ReturnControlMap         bool     `json:"return_control_map,omitempty"`
	Transparent              bool     `json:"transparent,omitempty"`
	SourceProcessingOverride string   `json:"source_processing,omitempty"`
	Loras                    any      `json:"loras,omitempty"`
	Tis                      any      `json:"tis,omitempty"`
}

type submitRequest struct {
	Prompt            string       `json:"prompt"`
	Params            submitParams `json:"params"`
	NSFW              bool         `json:"nsfw"`
	CensorNSFW        bool         `json:"censor_nsfw"`
	TrustedWorkers    bool         `json:"trusted_workers"`
	SlowWorkers       bool         `json:"slow_workers"`
	WorkerBlacklist   bool         `json:"worker_blacklist"`
	Workers           []string     `json:"workers,omitempty"`
	Models            []string     `json:"models"`
	R2                bool         `json:"r2"`
	Shared            bool         `json:"shared"`
	ReplacementFilter bool         `json:"replacement_filter"`
	DryRun            bool         `json:"dry_run"`
	SourceImage       string       `json:"source_image,omitempty"`
	SourceProcessing  string       `json:"source_processing,omitempty"`
	SourceMask        string       `json:"source_mask,omitempty"`
}

type submitResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

type checkResponse struct {
	Done     bool    `json:"done"`
	Faulted  bool    `json:"faulted"`
	Message  string  `json:"message"`
	WaitTime float64 `json:"wait_time"`
}

type statusResponse struct {
	Generations []struct {
		Img      string `json:"img"`
		Seed     string `json:"seed"`
		WorkerID string `json:"worker_id"`
		Model    string `json:"model"`
	} `json:"generations"`
}

// BuildRequest assembles the Horde submission payload. The negative prompt
// joins the positive prompt with the Horde's "###" separator.
func (p *Provider) BuildRequest(apiKey, modelID string, inputs types.ParameterSet) (*gen.Request, error) {
	if modelID == "" {
		modelID = inputs.String("model")
	}
	if modelID == "" {
		return nil, types.NewError(types.ErrValidation, "no model selected").WithProvider("aihorde")
	}

	fullPrompt := inputs.String("prompt")
	if neg := inputs.String("negativePrompt"); neg != "" {
		fullPrompt = fullPrompt + "###" + neg
	}

	nsfw := inputs.Bool("nsfw")
	body := submitRequest{
		Prompt: fullPrompt,
		Params: submitParams{
			SamplerName:       inputs.String("sampler"),
			CFGScale:          inputs.Float64("cfgScale"),
			Width:             inputs.Int("width"),
			Height:            inputs.Int("height"),
			Steps:             inputs.Int("steps"),
			Seed:              inputs.String("seed"),
			N:                 1, // batching is expanded client-side, one image per request
			PostProcessing:    postProcessing(inputs),
			Karras:            inputs.Bool("karras"),
			Tiling:            inputs.Bool("tiling"),
			HiresFix:          inputs.Bool("hiresFix"),
			ClipSkip:          inputs.Int("clipSkip"),
			DenoisingStrength: inputs.Float64("denoisingStrength"),
			Transparent:       inputs.Bool("transparent"),
			Loras:             inputs["loras"],
			Tis:               inputs["tis"],
		},
		NSFW:              nsfw,
		CensorNSFW:        !nsfw,
		TrustedWorkers:    inputs.Bool("trustedWorkers"),
		SlowWorkers:       inputs.Bool("slowWorkers"),
		WorkerBlacklist:   inputs.Bool("workerBlacklist"),
		Models:            []string{modelID},
		Shared:            inputs.Bool("shared"),
		ReplacementFilter: inputs.Bool("replacementFilter"),
	}

	if inputs.Bool("hiresFix") {
		body.Params.HiresFixDenoisingStrgth = inputs.Float64("hiresFixDenoisingStrength")
	}
	if ff := inputs.String("faceFixer"); ff != "" && ff != "None" {
		body.Params.FacefixerStrength = inputs.Float64("facefixerStrength")
	}

	controlType := inputs.String("controlType")
	sourceImage := inputs.String("sourceImage")
	if controlType != "" && controlType != "none" && sourceImage != "" {
		body.Params.ControlType = controlType
		body.Params.ImageIsControl = inputs.Bool("imageIsControl")
		body.Params.ReturnControlMap = inputs.Bool("returnControlMap")
		body.SourceImage = stripDataURI(sourceImage)
		if !inputs.Bool("imageIsControl") {
			body.Params.SourceProcessingOverride = "img2img"
		}
	} else if sp := inputs.String("sourceProcessing"); sp != "" && sp != "txt2img" {
		body.SourceImage = stripDataURI(sourceImage)
		body.SourceProcessing = sp
		if sp == "inpainting" {
			if mask := inputs.String("sourceMask"); mask != "" {
				body.SourceMask = stripDataURI(mask)
			}
		}
	}

	if workers, ok := inputs["workers"].([]any); ok && len(workers) > 0 {
		for _, w := range workers {
			if s, ok := w.(string); ok {
				body.Workers = append(body.Workers, s)
			}
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, types.NewError(types.ErrValidation, "failed to encode submission").WithCause(err).WithProvider("aihorde")
	}

	return &gen.Request{
		Dispatch: func(ctx context.Context) (*gen.DispatchResult, error) {
			return p.submit(ctx, apiKey, payload)
		},
	}, nil
}

func (p *Provider) submit(ctx context.Context, apiKey string, payload []byte) (*gen.DispatchResult, error) {
	// The community key routes through the relay, which holds the real
	// credential server-side.
	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") + "/generate/async"
	if apiKey == CommunityKey {
		endpoint = strings.TrimRight(p.cfg.RelayURL, "/") + "/generate/async"
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewError(types.ErrTransport, "failed to create request").WithCause(err).WithProvider("aihorde")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("apikey", apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, types.NewError(types.ErrTransport, "submission failed").WithCause(err).WithProvider("aihorde")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		errBody, _ := io.ReadAll(resp.Body)
		return nil, types.NewError(types.ErrProvider,
			fmt.Sprintf("submission rejected: %s", strings.TrimSpace(string(errBody)))).
			WithHTTPStatus(resp.StatusCode).WithProvider("aihorde")
	}

	var sResp submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&sResp); err != nil {
		return nil, types.NewError(types.ErrProvider, "failed to decode submission response").WithCause(err).WithProvider("aihorde")
	}
	if sResp.ID == "" {
		return nil, types.NewError(types.ErrProvider, "submission accepted without a request id").WithProvider("aihorde")
	}
	return &gen.DispatchResult{JobToken: sResp.ID}, nil
}

// CheckProgress probes the check endpoint. Check calls are anonymous and do
// not count against the status call budget.
func (p *Provider) CheckProgress(ctx context.Context, _, token string) (*gen.Progress, error) {
	endpoint := fmt.Sprintf("%s/generate/check/%s", strings.TrimRight(p.cfg.BaseURL, "/"), token)
	body, err := p.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var cResp checkResponse
	if err := json.Unmarshal(body, &cResp); err != nil {
		return nil, types.NewError(types.ErrProvider, "failed to decode check response").WithCause(err).WithProvider("aihorde")
	}
	return &gen.Progress{
		Done:            cResp.Done,
		Faulted:         cResp.Faulted,
		FaultMessage:    cResp.Message,
		WaitTimeSeconds: cResp.WaitTime,
		RawPayload:      string(body),
	}, nil
}

// FetchResult retrieves the finished generations after a done probe.
func (p *Provider) FetchResult(ctx context.Context, _, token string) (*gen.NormalizedResult, error) {
	endpoint := fmt.Sprintf("%s/generate/status/%s", strings.TrimRight(p.cfg.BaseURL, "/"), token)
	body, err := p.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var sResp statusResponse
	if err := json.Unmarshal(body, &sResp); err != nil {
		return nil, types.NewError(types.ErrProvider, "failed to decode status response").WithCause(err).WithProvider("aihorde")
	}
	if len(sResp.Generations) == 0 {
		return nil, nil
	}
	g := sResp.Generations[0]
	return &gen.NormalizedResult{
		Kind:   types.KindImage,
		URI:    "data:image/png;base64," + g.Img,
		Model:  nil,
		Detail: string(body),
	}, nil
}

func (p *Provider) get(ctx context.Context, endpoint string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, types.NewError(types.ErrTransport, "failed to create request").WithCause(err).WithProvider("aihorde")
	}
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, types.NewError(types.ErrTransport, "request failed").WithCause(err).WithProvider("aihorde")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.NewError(types.ErrTransport, "failed to read response").WithCause(err).WithProvider("aihorde")
	}
	if resp.StatusCode >= 400 {
		return nil, types.NewError(types.ErrProvider,
			fmt.Sprintf("request rejected: %s", strings.TrimSpace(string(body)))).
			WithHTTPStatus(resp.StatusCode).WithProvider("aihorde")
	}
	return body, nil
}

// postProcessing assembles the post-processing chain from face fixer,
// upscaler, and background stripping selections.
func postProcessing(inputs types.ParameterSet) []string {
	chain := []string{}
	if ff := inputs.String("faceFixer"); ff != "" && ff != "None" {
		chain = append(chain, ff)
	}
	if up := inputs.String("upscaler"); up != "" && up != "None" {
		chain = append(chain, up)
	}
	if inputs.Bool("stripBackground") {
		chain = append(chain, "strip_background")
	}
	return chain
}

// stripDataURI drops the "data:...;base64," prefix, keeping the raw base64.
func stripDataURI(s string) string {
	if i := strings.Index(s, ","); i >= 0 {
		return s[i+1:]
	}
	return s
}
