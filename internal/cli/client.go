package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const callerHeader = "X-ZeroLock-Caller"

// client is a thin JSON client for the daemon's HTTP API.
type client struct {
	base   string
	caller string
	http   *http.Client
}

func newClient(cmd *cobra.Command) *client {
	addr, _ := cmd.Flags().GetString("addr")
	as, _ := cmd.Flags().GetString("as")
	return &client{
		base:   strings.TrimRight(addr, "/"),
		caller: as,
		http:   &http.Client{Timeout: 30 * time.Second},
	}
}

// apiError is the daemon's error body.
type apiError struct {
	Status  int
	Type    string
	Message string
}

func (e *apiError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("daemon returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("%s (%d): %s", e.Type, e.Status, e.Message)
}

// do sends body as JSON and decodes the response into out.
func (c *client) do(method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.base+"/api/v1"+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.caller != "" {
		req.Header.Set(callerHeader, c.caller)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("is the daemon running? %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var e struct {
			Error struct {
				Message string `json:"message"`
				Type    string `json:"type"`
			} `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(raw, &e) != nil || e.Error.Message == "" {
			return &apiError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		}
		return &apiError{Status: resp.StatusCode, Type: e.Error.Type, Message: e.Error.Message}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *client) get(path string, out any) error { return c.do(http.MethodGet, path, nil, out) }

func (c *client) post(path string, body, out any) error {
	return c.do(http.MethodPost, path, body, out)
}
