package qtsp

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/gosuda/timeproof/internal/domain"
)

const maxBodyBytes = 32 << 20

type Config struct {
	APIURL       string
	TokenURL     string
	ClientID     string
	ClientSecret string
	// Provider is the TSP name sent with timestamp and signature requests.
	Provider string
	Timeout  time.Duration
}

// HTTPClient implements Client against the provider's REST API, authenticating
// with OAuth2 client credentials.
type HTTPClient struct {
	baseURL  string
	provider string
	creds    *clientcredentials.Config
	base     *http.Client
	tokens   oauth2.TokenSource
	http     *http.Client
}

var _ Client = (*HTTPClient)(nil)

func NewHTTPClient(cfg Config) *HTTPClient {
	base := &http.Client{Timeout: cfg.Timeout}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)

	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}

	tokens := cc.TokenSource(ctx)
	client := oauth2.NewClient(ctx, tokens)
	client.Timeout = cfg.Timeout

	provider := cfg.Provider
	if provider == "" {
		provider = "EADTRUST"
	}

	return &HTTPClient{
		baseURL:  strings.TrimRight(cfg.APIURL, "/"),
		provider: provider,
		creds:    cc,
		base:     base,
		tokens:   tokens,
		http:     client,
	}
}

type namedResource struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type tspSpec struct {
	Provider string `json:"provider"`
	Type     string `json:"type"`
}

type signatureSpec struct {
	Provider string `json:"provider"`
	Type     string `json:"type"`
	Level    string `json:"level"`
}

type filePayload struct {
	Name        string `json:"name"`
	Content     string `json:"content"`
	ContentType string `json:"contentType"`
}

type evidenceRequest struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Data        string         `json:"data"`
	TSP         *tspSpec       `json:"tsp,omitempty"`
	File        *filePayload   `json:"file,omitempty"`
	Signature   *signatureSpec `json:"signature,omitempty"`
}

type evidenceResponse struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	TSPToken     string `json:"tspToken"`
	TSPTimestamp string `json:"tspTimestamp"`
	Error        string `json:"error"`
	Reason       string `json:"reason"`
	SignedFile   *struct {
		Content string `json:"content"`
	} `json:"signedFile"`
}

func (c *HTTPClient) CreateCaseFile(ctx context.Context, name, description string) (string, error) {
	var out namedResource
	err := c.do(ctx, "create_case_file", http.MethodPost, "/case-files",
		map[string]string{"name": name, "description": description}, &out)
	if err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", &domain.ProviderError{Op: "create_case_file", Err: errors.New("response without id")}
	}
	return out.ID, nil
}

func (c *HTTPClient) CreateEvidenceGroup(ctx context.Context, caseFileRef, name string) (string, error) {
	var out namedResource
	err := c.do(ctx, "create_evidence_group", http.MethodPost,
		"/case-files/"+url.PathEscape(caseFileRef)+"/evidence-groups",
		map[string]string{"name": name}, &out)
	if err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", &domain.ProviderError{Op: "create_evidence_group", Err: errors.New("response without id")}
	}
	return out.ID, nil
}

func (c *HTTPClient) Notarize(ctx context.Context, req NotarizeRequest) (Result, error) {
	body := evidenceRequest{
		Name:        req.Name,
		Description: req.Description,
		Data:        req.Hash,
		TSP:         &tspSpec{Provider: c.provider, Type: "TIMESTAMP"},
	}
	return c.createEvidence(ctx, "notarize", req.GroupRef, body)
}

func (c *HTTPClient) Seal(ctx context.Context, req SealRequest) (Result, error) {
	body := evidenceRequest{
		Name:        req.Name,
		Description: req.Description,
		Data:        req.Hash,
		File: &filePayload{
			Name:        req.FileName,
			Content:     base64.StdEncoding.EncodeToString(req.Content),
			ContentType: "application/pdf",
		},
		Signature: &signatureSpec{Provider: c.provider, Type: "PADES_LTV", Level: "QUALIFIED"},
	}
	return c.createEvidence(ctx, "seal", req.GroupRef, body)
}

func (c *HTTPClient) createEvidence(ctx context.Context, op, groupRef string, body evidenceRequest) (Result, error) {
	if groupRef == "" {
		return Result{}, fmt.Errorf("qtsp.%s: empty group ref: %w", op, domain.ErrMalformedPayload)
	}

	var out evidenceResponse
	err := c.do(ctx, op, http.MethodPost, "/evidence-groups/"+url.PathEscape(groupRef)+"/evidences", body, &out)
	if errors.Is(err, domain.ErrAlreadySealed) {
		res, convErr := out.result()
		if convErr != nil {
			return Result{}, &domain.ProviderError{Op: op, Err: convErr}
		}
		return res, err
	}
	if err != nil {
		return Result{}, err
	}

	res, err := out.result()
	if err != nil {
		return Result{}, &domain.ProviderError{Op: op, Err: err}
	}
	return res, nil
}

func (c *HTTPClient) Status(ctx context.Context, ref string) (Result, error) {
	var out evidenceResponse
	if err := c.do(ctx, "status", http.MethodGet, "/evidences/"+url.PathEscape(ref), nil, &out); err != nil {
		return Result{}, err
	}
	if out.ID == "" {
		out.ID = ref
	}

	res, err := out.result()
	if err != nil {
		return Result{}, &domain.ProviderError{Op: "status", Err: err}
	}
	return res, nil
}

// Health fetches a fresh token, bypassing the cache, and lists one case file.
// Both calls are bounded by ctx. A reachable API that answers with a client
// error counts as a partial failure.
func (c *HTTPClient) Health(ctx context.Context) HealthReport {
	start := time.Now()

	tokenCtx := context.WithValue(ctx, oauth2.HTTPClient, c.base)
	if _, err := c.creds.Token(tokenCtx); err != nil {
		return HealthReport{Latency: time.Since(start), Message: "auth: " + err.Error()}
	}

	err := c.do(ctx, "health", http.MethodGet, "/case-files?limit=1", nil, nil)
	report := HealthReport{AuthOK: true, Latency: time.Since(start)}

	var pe *domain.ProviderError
	switch {
	case err == nil:
		report.APIOK = true
		report.Message = "ok"
	case errors.As(err, &pe) && pe.StatusCode >= 500:
		report.Message = pe.Error()
	case errors.As(err, &pe) && pe.StatusCode != 0:
		report.APIOK = true
		report.Partial = true
		report.Message = pe.Error()
	default:
		report.Message = err.Error()
	}
	return report
}

func (c *HTTPClient) do(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("qtsp.%s: marshal: %w: %w", op, domain.ErrMalformedPayload, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("qtsp.%s: %w: %w", op, domain.ErrMalformedPayload, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return transportError(op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return transportError(op, err)
	}

	if err := statusError(op, resp.StatusCode, data); err != nil {
		if errors.Is(err, domain.ErrAlreadySealed) && out != nil && len(data) > 0 {
			_ = json.Unmarshal(data, out)
		}
		return err
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &domain.ProviderError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func statusError(op string, code int, body []byte) error {
	if code >= 200 && code < 300 {
		return nil
	}

	msg := strings.TrimSpace(string(body))
	if len(msg) > 512 {
		msg = msg[:512]
	}

	switch {
	case code == http.StatusConflict && conflictMeansSealed(op):
		return fmt.Errorf("qtsp.%s: %w", op, domain.ErrAlreadySealed)
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		return fmt.Errorf("qtsp.%s: http %d: %s: %w", op, code, msg, domain.ErrMalformedPayload)
	default:
		return &domain.ProviderError{Op: op, StatusCode: code, Err: errors.New(http.StatusText(code) + ": " + msg)}
	}
}

// conflictMeansSealed reports whether a 409 from op says the subject was
// sealed before. Case file and group creation conflict on names instead and
// stay retryable provider errors.
func conflictMeansSealed(op string) bool {
	return op == "notarize" || op == "seal"
}

func transportError(op string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		return &domain.ProviderError{Op: op, StatusCode: re.Response.StatusCode, Err: err}
	}

	var ne net.Error
	timeout := errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout())
	return &domain.ProviderError{Op: op, Timeout: timeout, Err: err}
}

func (r *evidenceResponse) result() (Result, error) {
	if r.SignedFile != nil && r.SignedFile.Content != "" {
		artifact, err := base64.StdEncoding.DecodeString(r.SignedFile.Content)
		if err != nil {
			return Result{}, fmt.Errorf("decode signed file: %w", err)
		}
		res := Completed(r.ID, r.TSPToken, r.timestamp())
		res.Artifact = artifact
		return res, nil
	}
	if r.TSPToken != "" {
		return Completed(r.ID, r.TSPToken, r.timestamp()), nil
	}

	switch strings.ToLower(r.Status) {
	case "failed", "error", "rejected":
		reason := r.Reason
		if reason == "" {
			reason = r.Error
		}
		if reason == "" {
			reason = "provider reported " + r.Status
		}
		return Failed(r.ID, reason), nil
	default:
		return Pending(r.ID), nil
	}
}

func (r *evidenceResponse) timestamp() time.Time {
	if r.TSPTimestamp != "" {
		if ts, err := time.Parse(time.RFC3339Nano, r.TSPTimestamp); err == nil {
			return ts.UTC()
		}
	}
	return time.Now().UTC()
}
