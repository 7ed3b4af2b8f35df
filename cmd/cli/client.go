package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// apiError is a non-2xx answer from the server
type apiError struct {
	Status    int
	Message   string   `json:"error"`
	Details   []string `json:"details"`
	Conflicts []struct {
		ID        int64  `json:"id"`
		StartDate string `json:"startDate"`
		EndDate   string `json:"endDate"`
	} `json:"conflicts"`
}

func (e *apiError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (HTTP %d)", e.Message, e.Status)
	for _, d := range e.Details {
		b.WriteString("\n  - " + d)
	}
	for _, c := range e.Conflicts {
		fmt.Fprintf(&b, "\n  - overlaps reservation %d [%s, %s)", c.ID, c.StartDate, c.EndDate)
	}
	return b.String()
}

// client talks to the booking API with the saved token
type client struct {
	baseURL   string
	http      *http.Client
	tokenPath string
}

func newClient() *client {
	return &client{
		baseURL:   apiURL(),
		http:      &http.Client{Timeout: 15 * time.Second},
		tokenPath: tokenFile(),
	}
}

// do sends body as JSON and decodes a successful answer into out. It returns
// the response headers so callers can inspect replay markers.
func (c *client) do(method, path string, body any, headers map[string]string, out any) (http.Header, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.loadToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &apiError{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return resp.Header, apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.Header, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.Header, nil
}

func (c *client) saveToken(token string) error {
	if err := os.MkdirAll(filepath.Dir(c.tokenPath), 0o700); err != nil {
		return err
	}
	return os.WriteFile(c.tokenPath, []byte(token), 0o600)
}

func (c *client) loadToken() string {
	data, err := os.ReadFile(c.tokenPath)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func (c *client) clearToken() error {
	if err := os.Remove(c.tokenPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func apiURL() string {
	if url := os.Getenv("MINI_AIRBNB_API"); url != "" {
		return strings.TrimRight(url, "/")
	}
	return "http://localhost:8080/api"
}

func tokenFile() string {
	if p := os.Getenv("MINI_AIRBNB_TOKEN_FILE"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".mini-airbnb", "token")
}
