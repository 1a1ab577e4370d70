package trellis

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrean/genstudio/types"
)

func testInputs(file []byte) types.ParameterSet {
	p := New(Config{}).DefaultParameters()
	p["file"] = file
	p["seed"] = "99"
	return p
}

func trellisServer(t *testing.T, glb, preview []byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			json.NewEncoder(w).Encode(map[string]any{"status": "ok", "estimated_time": 30.0})
		case "/process-image":
			require.NoError(t, r.ParseMultipartForm(1<<20))
			f, _, err := r.FormFile("file")
			require.NoError(t, err)
			f.Close()
			require.Equal(t, "99", r.URL.Query().Get("seed"))
			require.NotEmpty(t, r.URL.Query().Get("session_id"))
			json.NewEncoder(w).Encode(map[string]any{
				"trial_id":             "trial-7",
				"queue_info":           map[string]any{"position": 0},
				"glb_model_base64":     hex.EncodeToString(glb),
				"preview_video_base64": hex.EncodeToString(preview),
			})
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestProcessImageDecodesHexPayloads(t *testing.T) {
	glb := []byte{0x67, 0x6c, 0x54, 0x46, 0x02}
	preview := []byte{0x00, 0x00, 0x00, 0x18, 0x66}
	srv := trellisServer(t, glb, preview)
	defer srv.Close()

	p := New(Config{BaseURL: srv.URL, HTTPClient: srv.Client()})
	req, err := p.BuildRequest("", "", testInputs([]byte("fake-png")))
	require.NoError(t, err)
	res, err := req.Dispatch(context.Background())
	require.NoError(t, err)

	require.True(t, res.Sync)
	assert.Equal(t, types.KindModel3D, res.Result.Kind)
	assert.Equal(t, glb, res.Result.Model)
	assert.Equal(t, preview, res.Result.Preview)
	assert.Contains(t, res.Result.Detail, "trial-7")
}

func TestDispatchAbortsWhenUnhealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		t.Fatal("process-image must not be reached when the service is down")
	}))
	defer srv.Close()

	p := New(Config{BaseURL: srv.URL, HTTPClient: srv.Client()})
	req, err := p.BuildRequest("", "", testInputs([]byte("img")))
	require.NoError(t, err)
	_, err = req.Dispatch(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.ErrProvider, types.GetErrorCode(err))
}

func TestBuildRequestRequiresFile(t *testing.T) {
	p := New(Config{})
	inputs := p.DefaultParameters()
	inputs["seed"] = "1"
	_, err := p.BuildRequest("", "", inputs)
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))
}

func TestAPIURLOverride(t *testing.T) {
	srv := trellisServer(t, []byte{1}, []byte{2})
	defer srv.Close()

	// BaseURL points nowhere; the per-request override wins.
	p := New(Config{BaseURL: "http://trellis.invalid", HTTPClient: srv.Client()})
	inputs := testInputs([]byte("img"))
	inputs["apiUrl"] = srv.URL

	req, err := p.BuildRequest("", "", inputs)
	require.NoError(t, err)
	res, err := req.Dispatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, res.Result.Model)
}

func TestMalformedHexIsProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"trial_id":             "t",
			"glb_model_base64":     "zz-not-hex",
			"preview_video_base64": "",
		})
	}))
	defer srv.Close()

	p := New(Config{BaseURL: srv.URL, HTTPClient: srv.Client()})
	req, err := p.BuildRequest("", "", testInputs([]byte("img")))
	require.NoError(t, err)
	_, err = req.Dispatch(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.ErrProvider, types.GetErrorCode(err))
}
