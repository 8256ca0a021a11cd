// Package roster reads the external student-roster service. The relay never
// writes to it; the roster is the systems of record for identities and the
// presence directory only mirrors the subset that has connected.
package roster

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Student is one roster entry.
type Student struct {
	ID        json.Number `json:"id"`
	FirstName string      `json:"first_name"`
	LastName  string      `json:"last_name"`
	Avatar    string      `json:"avatar"`
	GroupName string      `json:"group_name"`
}

type listResponse struct {
	Success  bool      `json:"success"`
	Students []Student `json:"students"`
	Message  string    `json:"message"`
}

// Client calls the roster service with a bearer credential.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient constructs a roster client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// ListStudents fetches the full roster on behalf of the given credential.
func (c *Client) ListStudents(ctx context.Context, token string) ([]Student, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/students/all", nil)
	if err != nil {
		return nil, fmt.Errorf("roster request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("roster request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("roster request: unexpected status %d", resp.StatusCode)
	}

	var body listResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("roster response: %w", err)
	}
	if !body.Success {
		if body.Message != "" {
			return nil, fmt.Errorf("roster response: %s", body.Message)
		}
		return nil, fmt.Errorf("roster response: request rejected")
	}
	return body.Students, nil
}
