// Package social fetches public posts used as proof of claim intent.
package social

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	ErrInvalidPostURL = errors.New("not a public post url")
	ErrPostNotFound   = errors.New("post not found")
)

// PostRef identifies a post as parsed from its URL. Handle is whatever the
// URL claims and is not an identity.
type PostRef struct {
	Handle string
	ID     string
}

// HandleAuthorPrefix marks an AuthorID that is a lowercased handle rather
// than the platform's numeric account id. The two never compare equal.
const HandleAuthorPrefix = "handle:"

// Post is a fetched post. Author fields come from the platform.
type Post struct {
	ID           string
	Text         string
	AuthorID     string
	AuthorHandle string
	AuthorName   string
}

type Verifier interface {
	FetchPost(ctx context.Context, ref PostRef) (*Post, error)
}

var (
	postHosts = map[string]bool{
		"x.com":              true,
		"www.x.com":          true,
		"mobile.x.com":       true,
		"twitter.com":        true,
		"www.twitter.com":    true,
		"mobile.twitter.com": true,
	}

	handleRE = regexp.MustCompile(`^[A-Za-z0-9_]{1,15}$`)
	postIDRE = regexp.MustCompile(`^[0-9]{1,20}$`)
)

// ParsePostURL accepts https://(www.|mobile.)?(x|twitter).com/<handle>/status/<id>
// with optional trailing path segments such as /photo/1.
func ParsePostURL(raw string) (PostRef, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return PostRef{}, fmt.Errorf("%w: %v", ErrInvalidPostURL, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return PostRef{}, ErrInvalidPostURL
	}
	if !postHosts[strings.ToLower(u.Hostname())] {
		return PostRef{}, ErrInvalidPostURL
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 3 || (parts[1] != "status" && parts[1] != "statuses") {
		return PostRef{}, ErrInvalidPostURL
	}
	if !handleRE.MatchString(parts[0]) || !postIDRE.MatchString(parts[2]) {
		return PostRef{}, ErrInvalidPostURL
	}

	return PostRef{Handle: parts[0], ID: parts[2]}, nil
}

// URL is the canonical address of the post.
func (r PostRef) URL() string {
	return "https://twitter.com/" + r.Handle + "/status/" + r.ID
}

// ContainsMention reports whether text mentions handle (with or without the
// leading @) as a whole word, ignoring case.
func ContainsMention(text, handle string) bool {
	handle = strings.TrimPrefix(handle, "@")
	if handle == "" {
		return false
	}
	re := regexp.MustCompile(`(?i)(^|[^A-Za-z0-9_])@` + regexp.QuoteMeta(handle) + `($|[^A-Za-z0-9_])`)
	return re.MatchString(text)
}
