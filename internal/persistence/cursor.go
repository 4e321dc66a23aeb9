// Package persistence contains helpers shared by repository implementations.
package persistence

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"example.com/progression/internal/domain"
)

// Activity history pages are continued with an opaque token carrying the last
// row's (occurred_at, activity_id) keyset position. The token is
// "<unix-nanos>:<activity-id>", base64url-encoded so it survives query strings
// untouched.

// EncodeCursor serialises the cursor to a token, or "" for a nil cursor.
func EncodeCursor(c *domain.Cursor) string {
	if c == nil {
		return ""
	}
	raw := fmt.Sprintf("%d:%s", c.OccurredAt.UTC().UnixNano(), c.ID)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a token produced by EncodeCursor. An empty token means
// the first page.
func DecodeCursor(token string) (*domain.Cursor, error) {
	if strings.TrimSpace(token) == "" {
		return nil, nil
	}

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("malformed cursor: %v", err)
	}

	nanos, id, ok := strings.Cut(string(raw), ":")
	if !ok || id == "" {
		return nil, fmt.Errorf("malformed cursor")
	}
	ts, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed cursor timestamp: %v", err)
	}

	return &domain.Cursor{OccurredAt: time.Unix(0, ts).UTC(), ID: id}, nil
}
