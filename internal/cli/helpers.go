package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/taskmesh-network/taskmesh/internal/daemon"
)

// getJSON fetches a path from the local node's API and decodes the
// response into v. Non-200 responses surface the API's error message.
func getJSON(path string, v any) error {
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return err
	}
	url := fmt.Sprintf("http://%s:%d%s", cfg.API.Host, cfg.API.Port, path)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("is the node running? %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// postJSON sends a JSON payload to the local node's API and decodes
// the response into v. Pass nil to discard the response body.
func postJSON(path string, payload, v any) error {
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return err
	}
	url := fmt.Sprintf("http://%s:%d%s", cfg.API.Host, cfg.API.Port, path)

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("is the node running? %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return apiError(resp)
	}
	if v == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// apiError surfaces the API's error message from a failed response.
func apiError(resp *http.Response) error {
	var apiErr struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error.Message != "" {
		return fmt.Errorf("%s", apiErr.Error.Message)
	}
	return fmt.Errorf("node returned %s", resp.Status)
}
