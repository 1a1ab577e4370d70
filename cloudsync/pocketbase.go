package cloudsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fyrean/genstudio/internal/tlsutil"
	"github.com/fyrean/genstudio/types"
)

// PocketBaseConfig configures the PocketBase-backed remote store.
type PocketBaseConfig struct {
	BaseURL string

	// Collection is the records collection holding one snapshot per user.
	Collection string

	// AuthToken is the user's session token.
	AuthToken string

	Timeout    time.Duration
	HTTPClient *http.Client
}

// PocketBaseStore implements RemoteStore against a PocketBase instance. Each
// user owns at most one record in the collection, with the snapshot archive
// attached as a file field named "files".
type PocketBaseStore struct {
	cfg    PocketBaseConfig
	client *http.Client
}

// NewPocketBaseStore creates a PocketBase remote store.
func NewPocketBaseStore(cfg PocketBaseConfig) *PocketBaseStore {
	if cfg.Collection == "" {
		cfg.Collection = "userdata"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = tlsutil.SecureHTTPClient(cfg.Timeout)
	}
	return &PocketBaseStore{cfg: cfg, client: client}
}

type pbRecord struct {
	ID    string `json:"id"`
	User  string `json:"user"`
	Files string `json:"files"`
}

type pbListResponse struct {
	Items []pbRecord `json:"items"`
}

func (s *PocketBaseStore) FindByOwner(ctx context.Context, ownerID string) (*Record, error) {
	query := url.Values{}
	query.Set("page", "1")
	query.Set("perPage", "1")
	query.Set("filter", fmt.Sprintf("user = %q", ownerID))
	endpoint := fmt.Sprintf("%s/api/collections/%s/records?%s",
		strings.TrimRight(s.cfg.BaseURL, "/"), s.cfg.Collection, query.Encode())

	body, err := s.do(ctx, http.MethodGet, endpoint, "", nil)
	if err != nil {
		return nil, err
	}
	var list pbListResponse
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, types.NewError(types.ErrProvider, "failed to decode record list").WithCause(err)
	}
	if len(list.Items) == 0 {
		return nil, nil
	}
	item := list.Items[0]
	return &Record{ID: item.ID, OwnerID: item.User, FileName: item.Files}, nil
}

func (s *PocketBaseStore) Create(ctx context.Context, ownerID string, archive []byte) error {
	payload, contentType, err := archiveForm(archive, map[string]string{"user": ownerID})
	if err != nil {
		return err
	}
	endpoint := fmt.Sprintf("%s/api/collections/%s/records",
		strings.TrimRight(s.cfg.BaseURL, "/"), s.cfg.Collection)
	_, err = s.do(ctx, http.MethodPost, endpoint, contentType, payload)
	return err
}

func (s *PocketBaseStore) Update(ctx context.Context, recordID string, archive []byte) error {
	payload, contentType, err := archiveForm(archive, nil)
	if err != nil {
		return err
	}
	endpoint := fmt.Sprintf("%s/api/collections/%s/records/%s",
		strings.TrimRight(s.cfg.BaseURL, "/"), s.cfg.Collection, recordID)
	_, err = s.do(ctx, http.MethodPatch, endpoint, contentType, payload)
	return err
}

func (s *PocketBaseStore) FetchArchive(ctx context.Context, rec *Record) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/api/files/%s/%s/%s",
		strings.TrimRight(s.cfg.BaseURL, "/"), s.cfg.Collection, rec.ID, rec.FileName)
	return s.do(ctx, http.MethodGet, endpoint, "", nil)
}

func (s *PocketBaseStore) do(ctx context.Context, method, endpoint, contentType string, payload []byte) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, types.NewError(types.ErrTransport, "failed to create request").WithCause(err)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if s.cfg.AuthToken != "" {
		httpReq.Header.Set("Authorization", s.cfg.AuthToken)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, types.NewError(types.ErrTransport, "cloud request failed").WithCause(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.NewError(types.ErrTransport, "failed to read cloud response").WithCause(err)
	}
	if resp.StatusCode >= 400 {
		return nil, types.NewError(types.ErrProvider,
			fmt.Sprintf("cloud request rejected: %s", strings.TrimSpace(string(data)))).
			WithHTTPStatus(resp.StatusCode)
	}
	return data, nil
}

// archiveForm builds the multipart body PocketBase expects: optional plain
// fields plus the archive under the "files" file field.
func archiveForm(archive []byte, fields map[string]string) ([]byte, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, "", types.NewError(types.ErrValidation, "failed to build upload").WithCause(err)
		}
	}
	part, err := mw.CreateFormFile("files", "gallery.zip")
	if err != nil {
		return nil, "", types.NewError(types.ErrValidation, "failed to build upload").WithCause(err)
	}
	if _, err := part.Write(archive); err != nil {
		return nil, "", types.NewError(types.ErrValidation, "failed to build upload").WithCause(err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", types.NewError(types.ErrValidation, "failed to build upload").WithCause(err)
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}
