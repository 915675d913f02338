package social

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// OEmbedVerifier reads posts through the public oEmbed endpoint. It needs no
// credentials. The platform exposes no numeric author id there, so the
// lowercased handle from author_url is the identity.
type OEmbedVerifier struct {
	endpoint   string
	httpClient *http.Client
	log        *zap.Logger
}

func NewOEmbedVerifier(endpoint string, timeout time.Duration, log *zap.Logger) *OEmbedVerifier {
	return &OEmbedVerifier{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

type oembedResponse struct {
	URL        string `json:"url"`
	AuthorName string `json:"author_name"`
	AuthorURL  string `json:"author_url"`
	HTML       string `json:"html"`
}

func (v *OEmbedVerifier) FetchPost(ctx context.Context, ref PostRef) (*Post, error) {
	q := url.Values{}
	q.Set("url", ref.URL())
	q.Set("omit_script", "true")
	q.Set("dnt", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oembed request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusForbidden:
		return nil, ErrPostNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("oembed: HTTP %d", resp.StatusCode)
	}

	var body oembedResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode oembed: %w", err)
	}

	handle := handleFromProfileURL(body.AuthorURL)
	if handle == "" {
		return nil, fmt.Errorf("oembed: missing author_url")
	}

	text, err := blockquoteText(body.HTML)
	if err != nil {
		return nil, err
	}

	v.log.Debug("post fetched via oembed", zap.String("post_id", ref.ID), zap.String("author", handle))

	return &Post{
		ID:           ref.ID,
		Text:         text,
		AuthorID:     HandleAuthorPrefix + strings.ToLower(handle),
		AuthorHandle: handle,
		AuthorName:   body.AuthorName,
	}, nil
}

// blockquoteText extracts the post body from the embed markup. The body is
// the first paragraph of the blockquote; the byline after it is skipped.
func blockquoteText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse oembed html: %w", err)
	}

	quote := doc.Find("blockquote").First()
	if quote.Length() == 0 {
		return "", fmt.Errorf("oembed: no blockquote")
	}

	p := quote.Find("p").First()
	if p.Length() == 0 {
		return strings.TrimSpace(quote.Text()), nil
	}

	// <br> carries line breaks inside the paragraph.
	p.Find("br").ReplaceWithHtml("\n")
	return strings.TrimSpace(p.Text()), nil
}

func handleFromProfileURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	h := strings.Trim(u.Path, "/")
	if !handleRE.MatchString(h) {
		return ""
	}
	return h
}
