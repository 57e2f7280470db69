// Package participants предоставляет клиент внешнего реестра участников розыгрышей.
package participants

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mmeshcher/raffle-system/internal/model"
)

// RetryAfterError возвращается, когда реестр просит повторить запрос позже.
type RetryAfterError struct {
	RetryAfter time.Duration
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("participant source is rate limited, retry after %s", e.RetryAfter)
}

// Client инкапсулирует HTTP-взаимодействие с реестром участников.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

type participantDTO struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	IsExcluded    bool       `json:"isExcluded"`
	ExcludedUntil *time.Time `json:"excludedUntil,omitempty"`
	Reason        string     `json:"reason,omitempty"`
}

// NewClient создаёт HTTP-клиент для обращения к реестру участников по указанному адресу.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// Participants запрашивает текущий пул участников недельного розыгрыша.
func (c *Client) Participants(ctx context.Context, weeklyID int64) ([]model.Participant, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("participant source not configured")
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	url := fmt.Sprintf("%s/api/raffles/%d/participants", base, weeklyID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent:
		return []model.Participant{}, nil
	case http.StatusTooManyRequests:
		retryAfter := time.Duration(0)
		if v := resp.Header.Get("Retry-After"); v != "" {
			if seconds, parseErr := strconv.Atoi(v); parseErr == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return nil, &RetryAfterError{RetryAfter: retryAfter}
	default:
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var dtos []participantDTO
	if err := json.NewDecoder(resp.Body).Decode(&dtos); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	res := make([]model.Participant, 0, len(dtos))
	for _, d := range dtos {
		res = append(res, model.Participant{
			ID:   d.ID,
			Name: d.Name,
			Exclusion: model.ExclusionStatus{
				IsExcluded:    d.IsExcluded,
				ExcludedUntil: d.ExcludedUntil,
				Reason:        d.Reason,
			},
		})
	}

	return res, nil
}
