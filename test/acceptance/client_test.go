package acceptance_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	. "github.com/onsi/gomega"
)

type apiClient struct {
	addr   string
	secret string
}

func (c apiClient) do(method, path string, body any) (int, map[string]any) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		ExpectWithOffset(1, err).NotTo(HaveOccurred())
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, "http://"+c.addr+path, reader)
	ExpectWithOffset(1, err).NotTo(HaveOccurred())
	req.Header.Set("Authorization", "Bearer "+c.secret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := (&http.Client{Timeout: 5 * time.Second}).Do(req)
	ExpectWithOffset(1, err).NotTo(HaveOccurred())
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func (c apiClient) submit(prompt, projectID string) map[string]any {
	status, out := c.do(http.MethodPost, "/api/prompts", map[string]any{
		"prompt": prompt, "project_id": projectID,
	})
	ExpectWithOffset(1, status).To(Equal(http.StatusCreated), "submit failed: %v", out)
	return out
}

func (c apiClient) get(id string) (int, map[string]any) {
	return c.do(http.MethodGet, "/api/prompts/"+id, nil)
}

func (c apiClient) cancel(id string, restart bool) (int, map[string]any) {
	return c.do(http.MethodPost, fmt.Sprintf("/api/prompts/%s/cancel", id), map[string]any{"restart": restart})
}

// waitForStatus polls GET /api/prompts/{id} until the record reaches one of
// the wanted terminal-or-otherwise statuses, or times out.
func waitForStatus(c apiClient, id string, timeout time.Duration, wanted ...string) map[string]any {
	deadline := time.Now().Add(timeout)
	var last map[string]any
	for time.Now().Before(deadline) {
		status, out := c.get(id)
		if status == http.StatusOK {
			if prompt, ok := out["prompt"].(map[string]any); ok {
				last = prompt
				for _, w := range wanted {
					if prompt["status"] == w {
						return prompt
					}
				}
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	Fail(fmt.Sprintf("prompt %s did not reach status %v within %s (last seen: %v)", id, wanted, timeout, last))
	return nil
}
