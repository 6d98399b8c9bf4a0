package storage

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/ledgerhound/ledgerhound/internal/common"
)

// ErrInvalidCursor marks a cursor that does not decode. It is a distinct
// failure, never conflated with an empty result set.
var ErrInvalidCursor = fmt.Errorf("%w: invalid cursor", common.ErrValidation)

// encodeCursor produces an opaque pagination cursor from the sort key of the
// last record on a page. Stable across equal sort keys because the record id
// participates.
func encodeCursor(postedAt time.Time, id string) string {
	raw := postedAt.UTC().Format(time.RFC3339Nano) + "|" + id
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// decodeCursor reverses encodeCursor.
func decodeCursor(cursor string) (time.Time, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", ErrInvalidCursor
	}

	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 || parts[1] == "" {
		return time.Time{}, "", ErrInvalidCursor
	}

	postedAt, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, "", ErrInvalidCursor
	}

	return postedAt, parts[1], nil
}
