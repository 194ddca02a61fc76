// Package proxmox has a bunch of convenience functions to work with the REST
// API of a Proxmox VE cluster. Each provider should use its own Client.
package proxmox

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.science.ru.nl/log"
)

const (
	// requestTimeout bounds a single API request.
	requestTimeout = 10 * time.Second

	userAgent = "cloudopper"
)

var (
	// ErrNotFound is returned when a VM or template can't be found on the cluster.
	ErrNotFound = errors.New("not found")

	// ErrTimeout is returned by the waiters when their deadline passes.
	ErrTimeout = errors.New("timeout reached")
)

// Client talks to a single Proxmox VE cluster.
type Client struct {
	url   string
	token string
	http  *http.Client
}

// New returns a pointer to an initialized Client. The user, tokenid and
// secret make up the API token Proxmox hands out. With insecure set the TLS
// certificate is not verified, Proxmox installs ship with self signed
// certificates.
func New(apiurl, user, tokenid, secret string, insecure bool) *Client {
	c := &Client{
		url:   strings.TrimSuffix(apiurl, "/"),
		token: fmt.Sprintf("PVEAPIToken=%s!%s=%s", user, tokenid, secret),
		http:  &http.Client{Timeout: requestTimeout},
	}
	if insecure {
		c.http.Transport = &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}
	}
	return c
}

// APIError is returned for any response with a status outside of the 2xx range.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// query performs a single request against the API and returns the data
// member of the response. POST, PUT and DELETE requests send data form
// encoded, GET requests must carry their parameters in the path.
func (c *Client) query(ctx context.Context, method, path string, data url.Values) (json.RawMessage, error) {
	var body io.Reader
	if method != http.MethodGet && len(data) > 0 {
		body = strings.NewReader(data.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url+"/api2/json/"+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Authorization", c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	log.Debugf("querying %s %s", method, path)

	metricAPIOps.Inc()
	resp, err := c.http.Do(req)
	if err != nil {
		metricAPIFail.Inc()
		return nil, fmt.Errorf("query %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	buf, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		metricAPIFail.Inc()
		return nil, fmt.Errorf("query %s %s: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metricAPIFail.Inc()
		return nil, &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: excerpt(buf)}
	}

	ret := struct {
		Data json.RawMessage `json:"data"`
	}{}
	if err := json.Unmarshal(buf, &ret); err != nil {
		return nil, fmt.Errorf("query %s %s: can't decode response: %w", method, path, err)
	}
	return ret.Data, nil
}

// excerpt trims and truncates an error body so it fits on a log line.
func excerpt(buf []byte) string {
	s := strings.Join(strings.Fields(string(buf)), " ")
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
