package clinical

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/dharsanguruparan/ChartSnap/internal/model"
)

const userAgent = "ChartSnap/0.1"

// HTTPOptions configures HTTPClient. RelayURL defaults to BaseURL.
type HTTPOptions struct {
	BaseURL  string
	RelayURL string
	Token    string
	Timeout  time.Duration
}

// HTTPClient is the production Client.
type HTTPClient struct {
	base   string
	relay  string
	token  string
	client *http.Client
}

// NewHTTPClient constructs an HTTPClient.
func NewHTTPClient(opts HTTPOptions) (*HTTPClient, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("clinical base url required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("parse clinical base url: %w", err)
	}
	relay := strings.TrimRight(strings.TrimSpace(opts.RelayURL), "/")
	if relay == "" {
		relay = base
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		base:   base,
		relay:  relay,
		token:  opts.Token,
		client: &http.Client{Timeout: timeout},
	}, nil
}

// Capabilities fetches the capability snapshot.
func (c *HTTPClient) Capabilities(ctx context.Context) (*model.Capabilities, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.base+"/capabilities", nil)
	if err != nil {
		return nil, err
	}
	var caps model.Capabilities
	if err := c.do(req, "capabilities", &caps); err != nil {
		return nil, err
	}
	return &caps, nil
}

// InitiateMobileSession requests a QR pairing token from the relay.
func (c *HTTPClient) InitiateMobileSession(ctx context.Context, in InitiateRequest) (*InitiateResponse, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("marshal initiate request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, c.relay+"/v1/mobile-sessions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	var out InitiateResponse
	if err := c.do(req, "initiate mobile session", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MobileImages lists every relayed image for the encounter.
func (c *HTTPClient) MobileImages(ctx context.Context, encounterID string, includeData bool) ([]model.MobileImage, error) {
	u := c.relay + "/v1/encounters/" + url.PathEscape(encounterID) + "/mobile-images"
	if includeData {
		u += "?include=data"
	}
	req, err := c.newRequest(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Images []model.MobileImage `json:"images"`
	}
	if err := c.do(req, "list mobile images", &out); err != nil {
		return nil, err
	}
	return out.Images, nil
}

// Commit sends one batch as multipart/form-data: a "payload" JSON part and
// one file part per file carrying bytes.
func (c *HTTPClient) Commit(ctx context.Context, in CommitRequest) (*CommitResponse, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("marshal commit payload: %w", err)
	}
	if err := mw.WriteField("payload", string(payload)); err != nil {
		return nil, fmt.Errorf("write payload part: %w", err)
	}
	for _, f := range in.Files {
		if len(f.Data) == 0 {
			continue
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, f.FileID, f.FileName))
		h.Set("Content-Type", f.ContentType)
		part, err := mw.CreatePart(h)
		if err != nil {
			return nil, fmt.Errorf("create file part: %w", err)
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, fmt.Errorf("write file part: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}
	u := c.base + "/encounters/" + url.PathEscape(in.EncounterID) + "/attachments"
	req, err := c.newRequest(ctx, http.MethodPost, u, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	var out CommitResponse
	if err := c.do(req, "commit attachments", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) newRequest(ctx context.Context, method, u string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *HTTPClient) do(req *http.Request, op string, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Op: op, Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}
