package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	docerrors "github.com/Aman-CERP/docindex/internal/errors"
)

// OCRConfig configures the HTTP OCR client.
type OCRConfig struct {
	// URL is the OCR service base URL.
	URL string

	// Languages is passed through to the recogniser, e.g. "fra+eng".
	Languages string

	// DPI is the rasterisation resolution for PDF pages.
	DPI int

	Timeout time.Duration

	// RequestsPerSecond throttles calls to the service. 0 disables throttling.
	RequestsPerSecond float64
	Burst             int

	MaxRetries int
}

// DefaultOCRConfig returns the defaults used by the CLI.
func DefaultOCRConfig() OCRConfig {
	return OCRConfig{
		URL:               "http://localhost:8001",
		Languages:         "fra+eng",
		DPI:               300,
		Timeout:           5 * time.Minute,
		RequestsPerSecond: 4,
		Burst:             4,
		MaxRetries:        2,
	}
}

type ocrResponse struct {
	Success    bool    `json:"success"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Error      string  `json:"error,omitempty"`
}

type ocrPageResult struct {
	Page       int     `json:"page"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Error      string  `json:"error,omitempty"`
}

type ocrBatchResponse struct {
	Success bool            `json:"success"`
	Results []ocrPageResult `json:"results"`
	Error   string          `json:"error,omitempty"`
}

type ocrHealth struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
}

const healthTimeout = 10 * time.Second

// statusError marks a non-2xx reply. 4xx replies are not retried.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("ocr request failed with status %d: %s", e.code, e.body)
}

// HTTPOCR calls an OCR service over multipart HTTP, behind a circuit
// breaker and a rate limiter.
type HTTPOCR struct {
	cfg     OCRConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

var _ BatchOCR = (*HTTPOCR)(nil)

// NewHTTPOCR creates an OCR client. Zero config fields take defaults.
func NewHTTPOCR(cfg OCRConfig) *HTTPOCR {
	defaults := DefaultOCRConfig()
	if cfg.URL == "" {
		cfg.URL = defaults.URL
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	if cfg.Languages == "" {
		cfg.Languages = defaults.Languages
	}
	if cfg.DPI <= 0 {
		cfg.DPI = defaults.DPI
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ocr",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		IsSuccessful: func(err error) bool {
			// Rejected input says nothing about the service's health.
			var se *statusError
			return err == nil || (errors.As(err, &se) && se.code < 500)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state change",
				slog.String("name", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})

	// Timeouts are per attempt, scaled to the pages requested.
	return &HTTPOCR{
		cfg:     cfg,
		client:  &http.Client{},
		breaker: breaker,
		limiter: rate.NewLimiter(limit, cfg.Burst),
	}
}

// Extract sends one page to the service and returns its text and a
// confidence in [0, 1].
func (c *HTTPOCR) Extract(ctx context.Context, in OCRInput) (string, float64, error) {
	fields := map[string]string{}
	if in.Page > 0 {
		fields["page"] = strconv.Itoa(in.Page)
	}

	var resp ocrResponse
	err := c.call(ctx, c.cfg.Timeout, func(ctx context.Context) error {
		resp = ocrResponse{}
		if err := c.upload(ctx, in, fields, &resp); err != nil {
			return err
		}
		if !resp.Success {
			return fmt.Errorf("ocr processing failed: %s", resp.Error)
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", 0, ctx.Err()
		}
		return "", 0, docerrors.New(docerrors.ErrCodeOCRUnavailable, "ocr failed", err).
			WithDetail("file", in.Name).
			WithDetail("page", strconv.Itoa(in.Page))
	}

	return strings.TrimSpace(resp.Text), normalizeConfidence(resp.Confidence), nil
}

// ExtractPages uploads in.Data once and recognises every listed page of
// it. The request timeout grows with the number of pages. A page the
// service did not answer for gets an error result.
func (c *HTTPOCR) ExtractPages(ctx context.Context, in OCRInput, pages []int) ([]PageResult, error) {
	if len(pages) == 0 {
		return nil, nil
	}
	list := make([]string, len(pages))
	for i, p := range pages {
		list[i] = strconv.Itoa(p)
	}
	fields := map[string]string{"pages": strings.Join(list, ",")}

	var resp ocrBatchResponse
	err := c.call(ctx, c.cfg.Timeout*time.Duration(len(pages)), func(ctx context.Context) error {
		resp = ocrBatchResponse{}
		if err := c.upload(ctx, in, fields, &resp); err != nil {
			return err
		}
		if !resp.Success {
			return fmt.Errorf("ocr processing failed: %s", resp.Error)
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, docerrors.New(docerrors.ErrCodeOCRUnavailable, "ocr failed", err).
			WithDetail("file", in.Name).
			WithDetail("pages", fields["pages"])
	}

	byPage := make(map[int]ocrPageResult, len(resp.Results))
	for _, r := range resp.Results {
		byPage[r.Page] = r
	}
	results := make([]PageResult, len(pages))
	for i, p := range pages {
		r, ok := byPage[p]
		switch {
		case !ok:
			results[i] = PageResult{Page: p, Err: fmt.Errorf("no ocr result for page %d", p)}
		case r.Error != "":
			results[i] = PageResult{Page: p, Err: errors.New(r.Error)}
		default:
			results[i] = PageResult{
				Page:       p,
				Text:       strings.TrimSpace(r.Text),
				Confidence: normalizeConfidence(r.Confidence),
			}
		}
	}
	return results, nil
}

// call runs one request through the limiter, the breaker and retries.
// Each attempt gets its own timeout.
func (c *HTTPOCR) call(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	retry := docerrors.RetryConfig{
		MaxRetries:   c.cfg.MaxRetries,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
		ShouldRetry:  shouldRetryOCR,
	}

	_, err := docerrors.Retry(ctx, retry, func() (struct{}, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return struct{}{}, err
		}
		_, err := c.breaker.Execute(func() (interface{}, error) {
			attemptCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return nil, fn(attemptCtx)
		})
		return struct{}{}, err
	})
	return err
}

func shouldRetryOCR(err error) bool {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) && se.code < 500 {
		return false
	}
	return true
}

// normalizeConfidence accepts either a ratio or a percentage.
func normalizeConfidence(c float64) float64 {
	if c > 1 {
		c /= 100
	}
	return max(0, min(1, c))
}

// upload streams a multipart form with the file and fields to the
// service and decodes the JSON reply into out. The file is copied straight
// from in.Data into the request body, never buffered whole.
func (c *HTTPOCR) upload(ctx context.Context, in OCRInput, fields map[string]string, out any) error {
	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	contentType := writer.FormDataContentType()

	go func() {
		pw.CloseWithError(writeOCRForm(writer, in, c.cfg, fields))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL+"/ocr/extract", pr)
	if err != nil {
		_ = pr.Close()
		return fmt.Errorf("failed to create ocr request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("ocr request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &statusError{code: resp.StatusCode, body: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode ocr response: %w", err)
	}
	return nil
}

func writeOCRForm(writer *multipart.Writer, in OCRInput, cfg OCRConfig, fields map[string]string) error {
	_ = writer.WriteField("languages", cfg.Languages)
	_ = writer.WriteField("dpi", strconv.Itoa(cfg.DPI))
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			return err
		}
	}

	fileWriter, err := writer.CreateFormFile("file", in.Name)
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fileWriter.Write(in.Data); err != nil {
		return fmt.Errorf("failed to copy file data: %w", err)
	}
	return writer.Close()
}

// Healthy reports whether the service is up with its model loaded.
func (c *HTTPOCR) Healthy(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL+"/health", nil)
	if err != nil {
		return false, fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("health check request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("ocr service unhealthy: status %d", resp.StatusCode)
	}

	var health ocrHealth
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return false, fmt.Errorf("failed to decode health response: %w", err)
	}
	return health.Status == "healthy" && health.ModelLoaded, nil
}

// BreakerState returns the circuit breaker state, for status reporting.
func (c *HTTPOCR) BreakerState() string {
	return c.breaker.State().String()
}
