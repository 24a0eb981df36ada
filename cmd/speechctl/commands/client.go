package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// apiError is a non-2xx answer from the speech service.
type apiError struct {
	Status int
	Code   string `json:"code"`
	Class  string `json:"class"`
	Msg    string `json:"error"`
}

func (e *apiError) Error() string {
	if e.Class != "" {
		return fmt.Sprintf("%s (%s, HTTP %d): %s", e.Code, e.Class, e.Status, e.Msg)
	}
	return fmt.Sprintf("%s (HTTP %d): %s", e.Code, e.Status, e.Msg)
}

type client struct {
	baseURL string
	http    *http.Client
}

func newClient(baseURL string, httpClient *http.Client) (*client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("addr is required")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported addr scheme %q", u.Scheme)
	}
	return &client{baseURL: baseURL, http: httpClient}, nil
}

func (c *client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if err := checkStatus(res); err != nil {
		return err
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	return json.NewDecoder(res.Body).Decode(out)
}

func checkStatus(res *http.Response) error {
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return nil
	}
	apiErr := &apiError{Status: res.StatusCode}
	b, _ := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	if err := json.Unmarshal(b, apiErr); err != nil || apiErr.Code == "" {
		apiErr.Code = "http_error"
		apiErr.Msg = strings.TrimSpace(string(b))
	}
	return apiErr
}

// wsURL converts the service address into a websocket URL for path.
func (c *client) wsURL(path string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported addr scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("addr host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String(), nil
}
