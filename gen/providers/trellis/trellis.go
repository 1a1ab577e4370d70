// Package trellis adapts the Fyrean Trellis image-to-3D service. The service
// is credential-free and file-driven: one multipart upload returns a GLB
// model and a turntable preview video, both hex-encoded in the response.
package trellis

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

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

// Provider is the Trellis image-to-3D adapter.
type Provider struct {
	cfg    Config
	client *http.Client
}

// New creates a Trellis adapter.
func New(cfg Config) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://trellis.fyrean.com"
	}
	if cfg.Timeout == 0 {
		// 3D reconstruction holds the connection open until done.
		cfg.Timeout = 15 * time.Minute
	}
	client := cfg.HTTPClient
	if client == nil {
		client = tlsutil.SecureHTTPClient(cfg.Timeout)
	}
	return &Provider{cfg: cfg, client: client}
}

func (p *Provider) Capabilities() gen.Capabilities {
	return gen.Capabilities{
		Name:           "trellis",
		DisplayName:    "Trellis",
		Kind:           types.KindModel3D,
		RequiresAPIKey: false,
		FileDriven:     true,
		SupportedSizes: []gen.Size{
			{Width: 512, Height: 512},
			{Width: 1024, Height: 1024},
			{Width: 1536, Height: 1536},
			{Width: 2048, Height: 2048},
		},
		SeedUpperBound: 1 << 53,
	}
}

func (p *Provider) DefaultParameters() types.ParameterSet {
	return types.ParameterSet{
		"seed":                   "",
		"ss_guidance_strength":   7.5,
		"ss_sampling_steps":      12,
		"slat_guidance_strength": 3.0,
		"slat_sampling_steps":    12,
		"mesh_simplify":          0.95,
		"texture_size":           1024,
	}
}

// Health is the service's readiness report.
type Health struct {
	Status        string  `json:"status"`
	EstimatedTime float64 `json:"estimated_time"`
}

type processResponse struct {
	TrialID      string          `json:"trial_id"`
	QueueInfo    json.RawMessage `json:"queue_info"`
	GLBModelHex  string          `json:"glb_model_base64"`
	PreviewHex   string          `json:"preview_video_base64"`
}

type resultMetadata struct {
	TrialID   string          `json:"trial_id"`
	QueueInfo json.RawMessage `json:"queue_info,omitempty"`
}

// CheckHealth probes the service before accepting work.
func (p *Provider) CheckHealth(ctx context.Context) (*Health, error) {
	return p.checkHealthAt(ctx, p.cfg.BaseURL)
}

// BuildRequest assembles the multipart upload. Generation parameters ride in
// the query string; the image rides in the body.
func (p *Provider) BuildRequest(_, _ string, inputs types.ParameterSet) (*gen.Request, error) {
	file, ok := inputs["file"].([]byte)
	if !ok || len(file) == 0 {
		return nil, types.NewError(types.ErrValidation, "an input image is required").WithProvider("trellis")
	}

	query := url.Values{}
	query.Set("session_id", uuid.NewString())
	query.Set("seed", inputs.String("seed"))
	query.Set("ss_guidance_strength", fmt.Sprintf("%g", inputs.Float64("ss_guidance_strength")))
	query.Set("ss_sampling_steps", fmt.Sprintf("%d", inputs.Int("ss_sampling_steps")))
	query.Set("slat_guidance_strength", fmt.Sprintf("%g", inputs.Float64("slat_guidance_strength")))
	query.Set("slat_sampling_steps", fmt.Sprintf("%d", inputs.Int("slat_sampling_steps")))
	query.Set("mesh_simplify", fmt.Sprintf("%g", inputs.Float64("mesh_simplify")))
	query.Set("texture_size", fmt.Sprintf("%d", inputs.Int("texture_size")))

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "input.png")
	if err != nil {
		return nil, types.NewError(types.ErrValidation, "failed to build upload").WithCause(err).WithProvider("trellis")
	}
	if _, err := part.Write(file); err != nil {
		return nil, types.NewError(types.ErrValidation, "failed to build upload").WithCause(err).WithProvider("trellis")
	}
	if err := mw.Close(); err != nil {
		return nil, types.NewError(types.ErrValidation, "failed to build upload").WithCause(err).WithProvider("trellis")
	}

	base := p.baseURL(inputs)
	endpoint := strings.TrimRight(base, "/") + "/process-image?" + query.Encode()
	contentType := mw.FormDataContentType()
	payload := buf.Bytes()

	return &gen.Request{
		Dispatch: func(ctx context.Context) (*gen.DispatchResult, error) {
			if _, err := p.checkHealthAt(ctx, base); err != nil {
				return nil, err
			}
			return p.process(ctx, endpoint, contentType, payload)
		},
	}, nil
}

func (p *Provider) process(ctx context.Context, endpoint, contentType string, payload []byte) (*gen.DispatchResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewError(types.ErrTransport, "failed to create request").WithCause(err).WithProvider("trellis")
	}
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, types.NewError(types.ErrTransport, "upload failed").WithCause(err).WithProvider("trellis")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		errBody, _ := io.ReadAll(resp.Body)
		return nil, types.NewError(types.ErrProvider,
			fmt.Sprintf("processing rejected: %s", strings.TrimSpace(string(errBody)))).
			WithHTTPStatus(resp.StatusCode).WithProvider("trellis")
	}

	var pResp processResponse
	if err := json.NewDecoder(resp.Body).Decode(&pResp); err != nil {
		return nil, types.NewError(types.ErrProvider, "failed to decode processing response").WithCause(err).WithProvider("trellis")
	}

	model, err := hex.DecodeString(pResp.GLBModelHex)
	if err != nil {
		return nil, types.NewError(types.ErrProvider, "malformed model payload").WithCause(err).WithProvider("trellis")
	}
	if len(model) == 0 {
		return nil, types.NewError(types.ErrProvider, "processing returned no model").WithProvider("trellis")
	}
	preview, err := hex.DecodeString(pResp.PreviewHex)
	if err != nil {
		return nil, types.NewError(types.ErrProvider, "malformed preview payload").WithCause(err).WithProvider("trellis")
	}

	detail, _ := json.Marshal(resultMetadata{TrialID: pResp.TrialID, QueueInfo: pResp.QueueInfo})
	return &gen.DispatchResult{
		Sync: true,
		Result: &gen.NormalizedResult{
			Kind:    types.KindModel3D,
			Model:   model,
			Preview: preview,
			Detail:  string(detail),
		},
	}, nil
}

func (p *Provider) checkHealthAt(ctx context.Context, base string) (*Health, error) {
	endpoint := strings.TrimRight(base, "/") + "/health"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, types.NewError(types.ErrTransport, "failed to create request").WithCause(err).WithProvider("trellis")
	}
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, types.NewError(types.ErrTransport, "health check failed").WithCause(err).WithProvider("trellis")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, types.NewError(types.ErrProvider, "service reported unhealthy").
			WithHTTPStatus(resp.StatusCode).WithProvider("trellis")
	}
	var h Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return nil, types.NewError(types.ErrProvider, "failed to decode health response").WithCause(err).WithProvider("trellis")
	}
	return &h, nil
}

// baseURL resolves the service root, honoring a per-request apiUrl override.
func (p *Provider) baseURL(inputs types.ParameterSet) string {
	if inputs != nil {
		if u := inputs.String("apiUrl"); u != "" {
			return u
		}
	}
	return p.cfg.BaseURL
}
