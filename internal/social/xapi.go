package social

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// APIVerifier reads posts through the X API v2 with an app bearer token.
// Requests are throttled locally to stay inside the app's quota.
type APIVerifier struct {
	baseURL     string
	bearerToken string
	httpClient  *http.Client
	limiter     *rate.Limiter
	log         *zap.Logger
}

func NewAPIVerifier(baseURL, bearerToken string, timeout time.Duration, rps float64, log *zap.Logger) *APIVerifier {
	if rps <= 0 {
		rps = 1
	}
	return &APIVerifier{
		baseURL:     baseURL,
		bearerToken: bearerToken,
		httpClient:  &http.Client{Timeout: timeout},
		limiter:     rate.NewLimiter(rate.Limit(rps), 1),
		log:         log,
	}
}

type tweetResponse struct {
	Data *struct {
		ID       string `json:"id"`
		Text     string `json:"text"`
		AuthorID string `json:"author_id"`
	} `json:"data"`
	Includes struct {
		Users []struct {
			ID       string `json:"id"`
			Username string `json:"username"`
			Name     string `json:"name"`
		} `json:"users"`
	} `json:"includes"`
}

func (v *APIVerifier) FetchPost(ctx context.Context, ref PostRef) (*Post, error) {
	if err := v.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("x api throttle: %w", err)
	}

	endpoint := fmt.Sprintf("%s/2/tweets/%s?expansions=author_id&user.fields=username,name", v.baseURL, ref.ID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+v.bearerToken)

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("x api request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrPostNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("x api: HTTP %d", resp.StatusCode)
	}

	var body tweetResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode x api response: %w", err)
	}
	// Deleted or protected posts come back as 200 with only an errors array.
	if body.Data == nil {
		return nil, ErrPostNotFound
	}

	post := &Post{ID: body.Data.ID, Text: body.Data.Text, AuthorID: body.Data.AuthorID}
	for _, u := range body.Includes.Users {
		if u.ID == body.Data.AuthorID {
			post.AuthorHandle = u.Username
			post.AuthorName = u.Name
			break
		}
	}
	if post.AuthorID == "" {
		return nil, fmt.Errorf("x api: response without author")
	}

	v.log.Debug("post fetched via x api", zap.String("post_id", ref.ID), zap.String("author_id", post.AuthorID))
	return post, nil
}
