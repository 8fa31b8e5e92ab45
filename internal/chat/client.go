// Package chat asks the label question-answering service and turns answers
// into assistant messages with citations.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"labelscope/api/internal/annotation"
)

var (
	ErrInvalidQuestion = errors.New("invalid question")
	ErrNoAnswer        = errors.New("no relevant information found")
	ErrUpstream        = errors.New("chat service unavailable")
)

const (
	maxMessageLen = 1000
	maxHistory    = 20
)

type Question struct {
	Message string
	DrugID  string
	// CompareIDs switches to the comparison endpoint when non-empty.
	CompareIDs []string
	History    []annotation.ChatMessage
}

type Answer struct {
	Content        string
	Citations      []annotation.Citation
	ConversationID string
}

type Oracle interface {
	Ask(ctx context.Context, q Question) (Answer, error)
}

type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for baseURL, e.g. http://host/api/chat.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type askRequest struct {
	Message             string        `json:"message"`
	DrugID              *int          `json:"drug_id,omitempty"`
	DrugIDs             []int         `json:"drug_ids,omitempty"`
	ConversationHistory []wireMessage `json:"conversation_history,omitempty"`
}

type wireCitation struct {
	SectionID    int    `json:"section_id"`
	DrugName     string `json:"drug_name"`
	SectionTitle string `json:"section_title"`
	LOINCCode    string `json:"loinc_code"`
	ChunkText    string `json:"chunk_text"`
}

type askResponse struct {
	Response       string         `json:"response"`
	Citations      []wireCitation `json:"citations"`
	ConversationID string         `json:"conversation_id"`
}

func (c *Client) Ask(ctx context.Context, q Question) (Answer, error) {
	payload, endpoint, err := buildRequest(q)
	if err != nil {
		return Answer{}, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Answer{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return Answer{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Answer{}, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Answer{}, fmt.Errorf("%w: read response: %w", ErrUpstream, err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Answer{}, ErrNoAnswer
	case resp.StatusCode != http.StatusOK:
		return Answer{}, fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode, truncate(string(raw), 512))
	}

	var out askResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return Answer{}, fmt.Errorf("%w: unmarshal response: %w", ErrUpstream, err)
	}
	return toAnswer(out), nil
}

func buildRequest(q Question) (askRequest, string, error) {
	msg := strings.TrimSpace(q.Message)
	if msg == "" {
		return askRequest{}, "", fmt.Errorf("%w: message is required", ErrInvalidQuestion)
	}
	if len([]rune(msg)) > maxMessageLen {
		return askRequest{}, "", fmt.Errorf("%w: message exceeds %d characters", ErrInvalidQuestion, maxMessageLen)
	}

	req := askRequest{Message: msg}
	endpoint := "/ask"
	if id, ok := numericID(q.DrugID); ok {
		req.DrugID = &id
	}
	if len(q.CompareIDs) > 0 {
		endpoint = "/compare"
		if req.DrugID != nil {
			req.DrugIDs = append(req.DrugIDs, *req.DrugID)
		}
		for _, raw := range q.CompareIDs {
			id, ok := numericID(raw)
			if !ok {
				return askRequest{}, "", fmt.Errorf("%w: drug id %q is not numeric", ErrInvalidQuestion, raw)
			}
			req.DrugIDs = append(req.DrugIDs, id)
		}
	}

	history := q.History
	if len(history) > maxHistory {
		history = history[len(history)-maxHistory:]
	}
	for _, m := range history {
		req.ConversationHistory = append(req.ConversationHistory, wireMessage{Role: string(m.Role), Content: m.Content})
	}
	return req, endpoint, nil
}

func toAnswer(r askResponse) Answer {
	a := Answer{Content: r.Response, ConversationID: r.ConversationID}
	for _, c := range r.Citations {
		section := c.SectionTitle
		if c.DrugName != "" {
			section = c.DrugName + ": " + section
		}
		sectionID := c.LOINCCode
		if sectionID == "" && c.SectionID != 0 {
			sectionID = strconv.Itoa(c.SectionID)
		}
		a.Citations = append(a.Citations, annotation.Citation{
			Section:   section,
			SectionID: sectionID,
			Excerpt:   c.ChunkText,
		})
	}
	return a
}

func numericID(s string) (int, bool) {
	id, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n]
}
