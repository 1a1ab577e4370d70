package huggingface

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrean/genstudio/types"
)

func testInputs() types.ParameterSet {
	p := New(Config{}).DefaultParameters()
	p["prompt"] = "a watercolor harbor"
	p["seed"] = "123"
	return p
}

func TestBytesBecomeDataURI(t *testing.T) {
	png := []byte{0x89, 0x50, 0x4e, 0x47}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/stabilityai/sd-turbo", r.URL.Path)
		require.Equal(t, "Bearer hf-key", r.Header.Get("Authorization"))
		w.Write(png)
	}))
	defer srv.Close()

	p := New(Config{BaseURL: srv.URL, HTTPClient: srv.Client()})
	req, err := p.BuildRequest("hf-key", "stabilityai/sd-turbo", testInputs())
	require.NoError(t, err)
	res, err := req.Dispatch(context.Background())
	require.NoError(t, err)

	require.True(t, res.Sync)
	assert.Equal(t, "data:image/png;base64,iVBORw==", res.Result.URI)
}

func TestSeedAlwaysOnWire(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Write([]byte{1})
	}))
	defer srv.Close()

	p := New(Config{BaseURL: srv.URL, HTTPClient: srv.Client()})
	req, err := p.BuildRequest("hf-key", "m/x", testInputs())
	require.NoError(t, err)
	_, err = req.Dispatch(context.Background())
	require.NoError(t, err)

	params := captured["parameters"].(map[string]any)
	assert.Equal(t, float64(123), params["seed"])
	assert.Equal(t, "a watercolor harbor", captured["inputs"])
	assert.NotContains(t, params, "negative_prompt")
}

func TestNegativePromptGated(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Write([]byte{1})
	}))
	defer srv.Close()

	p := New(Config{BaseURL: srv.URL, HTTPClient: srv.Client()})
	inputs := testInputs()
	inputs["useNegativePrompt"] = true
	inputs["negativePrompt"] = "low quality"

	req, err := p.BuildRequest("hf-key", "m/x", inputs)
	require.NoError(t, err)
	_, err = req.Dispatch(context.Background())
	require.NoError(t, err)

	params := captured["parameters"].(map[string]any)
	assert.Equal(t, "low quality", params["negative_prompt"])
}

func TestErrorSurfacesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model is loading"}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := New(Config{BaseURL: srv.URL, HTTPClient: srv.Client()})
	req, err := p.BuildRequest("hf-key", "m/x", testInputs())
	require.NoError(t, err)
	_, err = req.Dispatch(context.Background())
	require.Error(t, err)

	var gerr *types.Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, types.ErrProvider, gerr.Code)
	assert.Equal(t, http.StatusServiceUnavailable, gerr.HTTPStatus)
	assert.Contains(t, gerr.Message, "model is loading")
}

func TestEmptyBodyIsProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	p := New(Config{BaseURL: srv.URL, HTTPClient: srv.Client()})
	req, err := p.BuildRequest("hf-key", "m/x", testInputs())
	require.NoError(t, err)
	_, err = req.Dispatch(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.ErrProvider, types.GetErrorCode(err))
}
