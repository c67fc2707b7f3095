package postgres

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeQuery(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{
			name:  "placeholders kept",
			query: "SELECT sync_cursor FROM institutions WHERE id = $1",
			want:  "SELECT sync_cursor FROM institutions WHERE id = $1",
		},
		{
			name:  "string literal replaced",
			query: "UPDATE institutions SET status = 'idle' WHERE id = $1",
			want:  "UPDATE institutions SET status = '?' WHERE id = $1",
		},
		{
			name:  "escaped quote",
			query: "SELECT 'it''s' FROM t",
			want:  "SELECT '?' FROM t",
		},
		{
			name:  "numeric literal replaced",
			query: "SELECT * FROM transactions LIMIT 50 OFFSET 10.5",
			want:  "SELECT * FROM transactions LIMIT ? OFFSET ?",
		},
		{
			name:  "digits inside identifiers kept",
			query: "SELECT col1 FROM t2",
			want:  "SELECT col1 FROM t2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizeQuery(tt.query))
		})
	}
}

func TestSanitizeQuery_Truncates(t *testing.T) {
	got := sanitizeQuery("SELECT " + strings.Repeat("x", 300))
	assert.Len(t, got, 256+len("..."))
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestExtractSQLVerb(t *testing.T) {
	assert.Equal(t, "SELECT", extractSQLVerb("  select id FROM t"))
	assert.Equal(t, "INSERT", extractSQLVerb("\n\t\tINSERT INTO t VALUES ($1)"))
	assert.Equal(t, "COMMIT", extractSQLVerb("commit"))
}

func TestNullHelpers(t *testing.T) {
	assert.False(t, nullStringPtr(nil).Valid)
	s := "r-1"
	assert.Equal(t, "r-1", nullStringPtr(&s).String)

	assert.Nil(t, fromNullDecimal(toNullDecimal(nil)))
}
