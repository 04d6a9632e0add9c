package challenge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// SolveService is a client for a 2captcha-protocol solving service: submit
// a task to in.php, then poll res.php until a token or an error comes back.
type SolveService struct {
	provider     string
	apiKey       string
	baseURL      string
	pollInterval time.Duration
	httpClient   *http.Client
	logger       *zap.Logger
}

// NewSolveService builds a client. baseURL defaults to the 2captcha
// endpoint; tests point it at a local server. An empty apiKey yields a
// client that reports itself unavailable.
func NewSolveService(provider, apiKey, baseURL string, pollInterval time.Duration, logger *zap.Logger) *SolveService {
	if baseURL == "" {
		baseURL = "http://2captcha.com"
	}
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &SolveService{
		provider:     provider,
		apiKey:       apiKey,
		baseURL:      strings.TrimRight(baseURL, "/"),
		pollInterval: pollInterval,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		logger:       logger,
	}
}

// Available reports whether the service can be used at all.
func (s *SolveService) Available() bool {
	return s != nil && s.apiKey != ""
}

// Supports reports whether the service can solve the given challenge type.
// Generic image challenges and score-based recaptcha v3 always require the
// human tier.
func (s *SolveService) Supports(t Type) bool {
	switch t {
	case TypeRecaptchaV2, TypeHCaptcha, TypeTurnstile, TypeFunCaptcha:
		return true
	default:
		return false
	}
}

// Solve submits the challenge and polls until a token arrives, the
// type-specific wait elapses, or ctx is cancelled.
func (s *SolveService) Solve(ctx context.Context, c *Challenge, maxWait time.Duration) (string, error) {
	if !s.Available() {
		return "", &ServiceError{Provider: s.provider, Message: "no API key configured"}
	}
	if c.SiteKey == "" {
		return "", &ServiceError{Provider: s.provider, Message: "challenge has no site key"}
	}

	params, err := s.submitParams(c)
	if err != nil {
		return "", err
	}

	taskID, err := s.submit(ctx, params)
	if err != nil {
		return "", err
	}
	s.logger.Info("challenge submitted to solving service",
		zap.String("provider", s.provider),
		zap.String("challenge_id", c.ID),
		zap.String("task_id", taskID))

	return s.poll(ctx, taskID, maxWait)
}

func (s *SolveService) submitParams(c *Challenge) (url.Values, error) {
	params := url.Values{}
	params.Set("key", s.apiKey)
	params.Set("pageurl", c.PageURL)
	params.Set("json", "1")

	switch c.Type {
	case TypeRecaptchaV2:
		params.Set("method", "userrecaptcha")
		params.Set("googlekey", c.SiteKey)
		params.Set("invisible", "0")
	case TypeHCaptcha:
		params.Set("method", "hcaptcha")
		params.Set("sitekey", c.SiteKey)
	case TypeTurnstile:
		params.Set("method", "turnstile")
		params.Set("sitekey", c.SiteKey)
	case TypeFunCaptcha:
		params.Set("method", "funcaptcha")
		params.Set("publickey", c.SiteKey)
		if c.ServiceURL != "" {
			params.Set("surl", c.ServiceURL)
		}
	default:
		return nil, &ServiceError{Provider: s.provider, Message: fmt.Sprintf("unsupported challenge type %q", c.Type)}
	}
	return params, nil
}

type serviceReply struct {
	Status  int    `json:"status"`
	Request string `json:"request"`
}

func (s *SolveService) submit(ctx context.Context, params url.Values) (string, error) {
	reply, err := s.call(ctx, http.MethodPost, "/in.php", params)
	if err != nil {
		return "", err
	}
	if reply.Status != 1 {
		return "", &ServiceError{Provider: s.provider, Message: "task rejected: " + reply.Request}
	}
	return reply.Request, nil
}

func (s *SolveService) poll(ctx context.Context, taskID string, maxWait time.Duration) (string, error) {
	deadline := time.Now().Add(maxWait)
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	params := url.Values{}
	params.Set("key", s.apiKey)
	params.Set("action", "get")
	params.Set("id", taskID)
	params.Set("json", "1")

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}

		reply, err := s.call(ctx, http.MethodGet, "/res.php", params)
		if err != nil {
			return "", err
		}
		if reply.Status == 1 {
			return reply.Request, nil
		}
		if reply.Request != "CAPCHA_NOT_READY" {
			return "", &ServiceError{Provider: s.provider, Message: "solve failed: " + reply.Request}
		}
	}
	return "", &ServiceError{Provider: s.provider, Message: fmt.Sprintf("solve timed out after %s", maxWait)}
}

func (s *SolveService) call(ctx context.Context, method, path string, params url.Values) (*serviceReply, error) {
	var req *http.Request
	var err error
	switch method {
	case http.MethodPost:
		req, err = http.NewRequestWithContext(ctx, method, s.baseURL+path, strings.NewReader(params.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	default:
		req, err = http.NewRequestWithContext(ctx, method, s.baseURL+path+"?"+params.Encode(), nil)
	}
	if err != nil {
		return nil, &ServiceError{Provider: s.provider, Message: "failed to build request", Cause: err}
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &ServiceError{Provider: s.provider, Message: "request failed", Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &ServiceError{Provider: s.provider, Message: "failed to read response", Cause: err}
	}
	var reply serviceReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, &ServiceError{Provider: s.provider, Message: "malformed response", Cause: err}
	}
	return &reply, nil
}
