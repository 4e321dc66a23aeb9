package persistence

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/progression/internal/domain"
)

func TestCursorRoundTrip(t *testing.T) {
	cursor := &domain.Cursor{
		OccurredAt: time.Date(2026, time.February, 3, 9, 30, 0, 123456789, time.UTC),
		ID:         "act-42",
	}

	token := EncodeCursor(cursor)
	require.NotEmpty(t, token)

	decoded, err := DecodeCursor(token)
	require.NoError(t, err)
	require.True(t, cursor.OccurredAt.Equal(decoded.OccurredAt))
	require.Equal(t, cursor.ID, decoded.ID)
}

func TestCursorEmptyToken(t *testing.T) {
	require.Equal(t, "", EncodeCursor(nil))

	decoded, err := DecodeCursor("  ")
	require.NoError(t, err)
	require.Nil(t, decoded)
}

func TestCursorRejectsGarbage(t *testing.T) {
	cases := map[string]string{
		"not base64url":     "%%%not-base64%%%",
		"no separator":      base64.RawURLEncoding.EncodeToString([]byte("1700000000000")),
		"empty id":          base64.RawURLEncoding.EncodeToString([]byte("1700000000000:")),
		"non-numeric nanos": base64.RawURLEncoding.EncodeToString([]byte("soon:act-1")),
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeCursor(token)
			require.Error(t, err)
		})
	}
}
