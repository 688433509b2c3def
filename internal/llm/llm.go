package llm

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/comigor/webgpt-go/internal/config"
	"github.com/sashabaranov/go-openai"
)

// maxErrorBody caps how much of a rejected response is kept for logging.
const maxErrorBody = 4 << 10

// StatusError is returned for every response whose status is not 200 OK,
// including other 2xx codes.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("chat/completions returned status %d: %s", e.StatusCode, e.Body)
}

// okOnly turns any non-200 response into a *StatusError before go-openai
// gets to decode it.
type okOnly struct {
	next openai.HTTPDoer
}

func (d okOnly) Do(req *http.Request) (*http.Response, error) {
	resp, err := d.next.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusOK {
		return resp, nil
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

// NewClient creates a new OpenAI client. The request URL is
// BaseURL + "/chat/completions"; an empty BaseURL keeps the OpenAI default.
// Only a 200 response is decoded, anything else fails with *StatusError.
func NewClient(cfg config.LLMConfig) *openai.Client {
	config := openai.DefaultConfig(cfg.APIKey)
	if base := strings.TrimRight(cfg.BaseURL, "/"); base != "" {
		config.BaseURL = base
	}
	config.HTTPClient = okOnly{next: config.HTTPClient}

	return openai.NewClientWithConfig(config)
}
