package solver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	twoCaptchaBaseURL = "https://2captcha.com"
)

// TwoCaptcha solves image CAPTCHAs through 2Captcha's normal (base64) API.
type TwoCaptcha struct {
	apiKey     string
	baseURL    string
	client     *http.Client
	pollDelay  time.Duration
	maxRetries int
}

// NewTwoCaptcha creates a new 2Captcha image solver.
func NewTwoCaptcha(apiKey string) *TwoCaptcha {
	return &TwoCaptcha{
		apiKey:  apiKey,
		baseURL: twoCaptchaBaseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		pollDelay:  3 * time.Second,
		maxRetries: 40, // 2 minutes max (40 * 3s)
	}
}

// Name returns "2captcha".
func (t *TwoCaptcha) Name() string {
	return "2captcha"
}

// Solve submits the image and polls for the answer.
func (t *TwoCaptcha) Solve(ctx context.Context, image []byte, length int) (string, error) {
	taskID, err := t.submitTask(ctx, image, length)
	if err != nil {
		return "", err
	}
	return t.pollResult(ctx, taskID)
}

// Balance returns the current account balance.
func (t *TwoCaptcha) Balance(ctx context.Context) (float64, error) {
	resp, err := t.request(ctx, "/res.php", url.Values{
		"key":    {t.apiKey},
		"action": {"getbalance"},
		"json":   {"1"},
	})
	if err != nil {
		return -1, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return -1, err
	}

	var result struct {
		Status  int    `json:"status"`
		Request string `json:"request"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		balance, err := strconv.ParseFloat(strings.TrimSpace(string(body)), 64)
		if err != nil {
			return -1, fmt.Errorf("failed to parse balance: %s", string(body))
		}
		return balance, nil
	}

	if result.Status != 1 {
		return -1, fmt.Errorf("failed to get balance: %s", result.Request)
	}

	balance, _ := strconv.ParseFloat(result.Request, 64)
	return balance, nil
}

// submitTask uploads the image and returns the task ID.
func (t *TwoCaptcha) submitTask(ctx context.Context, image []byte, length int) (string, error) {
	values := url.Values{
		"key":    {t.apiKey},
		"json":   {"1"},
		"method": {"base64"},
		"body":   {base64.StdEncoding.EncodeToString(image)},
	}
	if length > 0 {
		values.Set("min_len", strconv.Itoa(length))
		values.Set("max_len", strconv.Itoa(length))
	}

	resp, err := t.request(ctx, "/in.php", values)
	if err != nil {
		return "", &SolverError{Message: "2captcha submit failed", Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &SolverError{Message: "2captcha submit read failed", Cause: err}
	}

	var result struct {
		Status  int    `json:"status"`
		Request string `json:"request"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", &SolverError{Message: "2captcha submit parse failed", Cause: err}
	}

	if result.Status != 1 {
		return "", &SolverError{Message: "2captcha rejected task: " + result.Request, Cause: ErrSolverFailed}
	}

	return result.Request, nil
}

// pollResult polls until the task is solved or retries are exhausted.
func (t *TwoCaptcha) pollResult(ctx context.Context, taskID string) (string, error) {
	for i := 0; i < t.maxRetries; i++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(t.pollDelay):
		}

		resp, err := t.request(ctx, "/res.php", url.Values{
			"key":    {t.apiKey},
			"action": {"get"},
			"id":     {taskID},
			"json":   {"1"},
		})
		if err != nil {
			return "", &SolverError{Message: "2captcha poll failed", Cause: err}
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return "", &SolverError{Message: "2captcha poll read failed", Cause: err}
		}

		var result struct {
			Status  int    `json:"status"`
			Request string `json:"request"`
		}
		if err := json.Unmarshal(body, &result); err != nil {
			return "", &SolverError{Message: "2captcha poll parse failed", Cause: err}
		}

		if result.Status == 1 {
			return result.Request, nil
		}
		if result.Request != "CAPCHA_NOT_READY" {
			return "", &SolverError{Message: "2captcha error: " + result.Request, Cause: ErrSolverFailed}
		}
	}

	return "", ErrSolverTimeout
}

// request performs a form POST against the 2Captcha API.
func (t *TwoCaptcha) request(ctx context.Context, path string, values url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, strings.NewReader(values.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("2captcha returned status %d", resp.StatusCode)
	}
	return resp, nil
}
