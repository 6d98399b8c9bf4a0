package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	postedAt := time.Date(2026, 4, 1, 9, 30, 0, 123456789, time.UTC)

	cursor := encodeCursor(postedAt, "txn-42")
	gotTime, gotID, err := decodeCursor(cursor)
	require.NoError(t, err)
	assert.True(t, gotTime.Equal(postedAt))
	assert.Equal(t, "txn-42", gotID)
}

func TestCursorDecodeFailures(t *testing.T) {
	cases := map[string]string{
		"not base64":    "!!!",
		"no separator":  "bm9zZXBhcmF0b3I",
		"empty id":      "MjAyNi0wNC0wMVQwOTozMDowMFp8",
		"bad timestamp": "bm90YXRpbWV8dHhuLTE",
	}
	for name, cursor := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := decodeCursor(cursor)
			assert.ErrorIs(t, err, ErrInvalidCursor)
		})
	}
}
