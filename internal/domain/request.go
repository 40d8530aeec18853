package domain

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// DownloadRequestType is the "type" marker of a structured download request
const DownloadRequestType = "download"

// RequestKind is the variant produced by ParseRequest
type RequestKind int

const (
	RequestMalformed  RequestKind = iota
	RequestStructured             // JSON object carrying a videoId
	RequestBare                   // non-JSON text taken as the identifier itself
)

func (k RequestKind) String() string {
	switch k {
	case RequestStructured:
		return "structured"
	case RequestBare:
		return "bare"
	default:
		return "malformed"
	}
}

// Request is a parsed inbound message
type Request struct {
	Kind       RequestKind
	ResourceID string
	// Reason is the human readable problem for RequestMalformed
	Reason string
}

// ParseRequest interprets an inbound text message, in priority order:
//  1. an object with "type": "download" and a "videoId",
//  2. an object with a "videoId" and no recognized type,
//  3. text that is not JSON at all, taken as a bare identifier.
//
// Any other JSON value (arrays, numbers, other object shapes) is malformed.
func ParseRequest(message []byte) Request {
	text := strings.TrimSpace(string(message))
	if text == "" {
		return malformed("No videoId provided")
	}

	var payload any
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return Request{Kind: RequestBare, ResourceID: text}
	}

	obj, ok := payload.(map[string]any)
	if !ok {
		return malformed("Unknown JSON payload")
	}

	typ, _ := obj["type"].(string)
	raw, hasID := obj["videoId"]
	if typ != DownloadRequestType && !hasID {
		return malformed("Unknown JSON payload")
	}
	if raw == nil {
		return malformed("No videoId provided")
	}
	id, ok := raw.(string)
	if !ok {
		return malformed("videoId must be a string")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return malformed("No videoId provided")
	}
	return Request{Kind: RequestStructured, ResourceID: id}
}

func malformed(reason string) Request {
	return Request{Kind: RequestMalformed, Reason: reason}
}

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ResolveKey derives the job key from a resource identifier. Besides bare
// video ids it understands watch URLs, youtu.be links and /shorts/, /embed/
// and /live/ paths.
func ResolveKey(resourceID string) (string, error) {
	id := strings.TrimSpace(resourceID)
	if id == "" {
		return "", fmt.Errorf("%w: empty resource identifier", ErrMalformedRequest)
	}

	if strings.Contains(id, "://") {
		u, err := url.Parse(id)
		if err != nil {
			return "", fmt.Errorf("%w: invalid URL: %v", ErrMalformedRequest, err)
		}
		id = keyFromURL(u)
	}

	if !keyPattern.MatchString(id) {
		return "", fmt.Errorf("%w: invalid video id %q", ErrMalformedRequest, resourceID)
	}
	return id, nil
}

func keyFromURL(u *url.URL) string {
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if host == "youtu.be" {
		return strings.Trim(u.Path, "/")
	}
	if v := u.Query().Get("v"); v != "" {
		return v
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) == 2 {
		switch parts[0] {
		case "shorts", "embed", "live":
			return parts[1]
		}
	}
	return ""
}

// BuildURL expands a url template such as "https://www.youtube.com/watch?v=%s"
func BuildURL(template, key string) string {
	return fmt.Sprintf(template, url.QueryEscape(key))
}
