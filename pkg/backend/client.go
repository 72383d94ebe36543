// Package backend is the REST client of the external smear classification
// service. Calls are never retried unless BACKEND_RETRIES is set.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/frottis-lab/dashboard/pkg/common/config"
	"github.com/frottis-lab/dashboard/pkg/common/logger"
	"github.com/frottis-lab/dashboard/pkg/common/models"
	"github.com/frottis-lab/dashboard/pkg/gateway/httpclient"
	"github.com/frottis-lab/dashboard/pkg/observability/metrics"
	"github.com/go-resty/resty/v2"
)

// ErrEmptyResponse is returned when a detail endpoint answers 2xx without a body.
var ErrEmptyResponse = errors.New("backend returned an empty response")

// Error is a non-2xx answer from the backend.
type Error struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
}

// IsNotFound reports a 404 answer or an empty detail body.
func IsNotFound(err error) bool {
	if errors.Is(err, ErrEmptyResponse) {
		return true
	}
	var be *Error
	return errors.As(err, &be) && be.StatusCode == http.StatusNotFound
}

// IsClientError reports a 4xx answer other than 404, typically a rejected form.
func IsClientError(err error) bool {
	var be *Error
	return errors.As(err, &be) && be.StatusCode >= 400 && be.StatusCode < 500 && be.StatusCode != http.StatusNotFound
}

type Client struct {
	http *resty.Client
}

func New(cfg *config.Config) *Client {
	return NewClient(cfg.BackendBaseURL, cfg.BackendTimeout, cfg.BackendRetries)
}

func NewClient(baseURL string, timeout time.Duration, retries int) *Client {
	rc := resty.NewWithClient(httpclient.New(timeout)).
		SetBaseURL(baseURL).
		SetHeader("Accept", "application/json")
	if retries > 0 {
		rc.SetRetryCount(retries).
			SetRetryWaitTime(200 * time.Millisecond).
			SetRetryMaxWaitTime(2 * time.Second).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				return err != nil && httpclient.IsRetriable(err)
			})
	}
	return &Client{http: rc}
}

func (c *Client) ListPatients(ctx context.Context) ([]models.Patient, error) {
	var out []models.Patient
	if err := c.list(ctx, "/showpatient/", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetPatient(ctx context.Context, id models.ID) (models.Patient, error) {
	var out models.Patient
	if err := c.detail(ctx, http.MethodGet, "/patientdetail/"+url.PathEscape(id.String())+"/", nil, &out); err != nil {
		return models.Patient{}, err
	}
	return out, nil
}

func (c *Client) CreatePatient(ctx context.Context, in models.PatientInput) (models.Patient, error) {
	var out models.Patient
	if err := c.detail(ctx, http.MethodPost, "/patients/", in, &out); err != nil {
		return models.Patient{}, err
	}
	return out, nil
}

func (c *Client) UpdatePatient(ctx context.Context, id models.ID, upd models.PatientUpdate) (models.Patient, error) {
	var out models.Patient
	if err := c.detail(ctx, http.MethodPut, "/updatepatient/"+url.PathEscape(id.String())+"/update/", upd, &out); err != nil {
		return models.Patient{}, err
	}
	return out, nil
}

func (c *Client) DeletePatient(ctx context.Context, id models.ID) error {
	_, err := c.send(ctx, c.request(ctx), http.MethodDelete, "/patientdelete/"+url.PathEscape(id.String())+"/delete/")
	return err
}

// ListResults returns every analysis result known to the backend.
func (c *Client) ListResults(ctx context.Context) ([]models.AnalysisResult, error) {
	var out []models.AnalysisResult
	if err := c.list(ctx, "/getresults/", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListPatientResults returns the analysis results of one patient.
func (c *Client) ListPatientResults(ctx context.Context, patientID models.ID) ([]models.AnalysisResult, error) {
	var out []models.AnalysisResult
	if err := c.list(ctx, "/getresultdetail/"+url.PathEscape(patientID.String())+"/", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Analyse uploads a smear image for a patient and returns the immediate
// classification.
func (c *Client) Analyse(ctx context.Context, patientID models.ID, filename string, image io.Reader) (models.AnalyseResponse, error) {
	req := c.request(ctx).
		SetMultipartFormData(map[string]string{"id_patient": patientID.String()}).
		SetFileReader("image", filename, image)

	body, err := c.send(ctx, req, http.MethodPost, "/analyse/")
	if err != nil {
		return models.AnalyseResponse{}, err
	}
	var out models.AnalyseResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return models.AnalyseResponse{}, fmt.Errorf("decode analyse response: %w", err)
	}
	return out, nil
}

func (c *Client) request(ctx context.Context) *resty.Request {
	req := c.http.R().SetContext(ctx)
	if id := logger.RequestID(ctx); id != "" {
		req.SetHeader("X-Request-ID", id)
	}
	return req
}

// list decodes a JSON array; any other body is treated as an empty list.
func (c *Client) list(ctx context.Context, path string, out interface{}) error {
	body, err := c.send(ctx, c.request(ctx), http.MethodGet, path)
	if err != nil {
		return err
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		logger.FromContext(ctx).WithField("path", path).Warn("Backend list endpoint did not return an array")
		return nil
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) detail(ctx context.Context, method, path string, in interface{}, out interface{}) error {
	req := c.request(ctx)
	if in != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(in)
	}
	body, err := c.send(ctx, req, method, path)
	if err != nil {
		return err
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte("{}")) {
		return fmt.Errorf("%s %s: %w", method, path, ErrEmptyResponse)
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, req *resty.Request, method, path string) ([]byte, error) {
	metrics.IncBackendRequests()
	start := time.Now()

	resp, err := req.Execute(method, path)
	entry := logger.FromContext(ctx).WithFields(map[string]interface{}{
		"method":   method,
		"path":     path,
		"duration": time.Since(start).Milliseconds(),
	})
	if err != nil {
		metrics.IncBackendFailures()
		entry.WithError(err).Error("Backend request failed")
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}

	entry = entry.WithField("status", resp.StatusCode())
	if resp.IsError() {
		metrics.IncBackendFailures()
		be := &Error{Method: method, Path: path, StatusCode: resp.StatusCode(), Message: errorMessage(resp.Body())}
		entry.WithError(be).Error("Backend returned an error status")
		return nil, be
	}

	entry.Debug("Backend request completed")
	return resp.Body(), nil
}

// errorMessage extracts the backend's {"message": ...} or {"detail": ...}.
func errorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if payload.Message != "" {
		return payload.Message
	}
	return payload.Detail
}
