package processor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanText(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "removes page markers",
			input:    "Introduction\nPage 1 of 12\nSome content here",
			expected: "Introduction\n\nSome content here",
		},
		{
			name:     "page marker case insensitive",
			input:    "content\npage 3 of 7\nmore",
			expected: "content\n\nmore",
		},
		{
			name:     "collapses excessive newlines",
			input:    "first\n\n\n\n\nsecond",
			expected: "first\n\nsecond",
		},
		{
			name:     "collapses space runs",
			input:    "a    lot\tof\t\tspace",
			expected: "a lot of space",
		},
		{
			name:     "strips form feeds and nulls",
			input:    "before\f\x00after",
			expected: "beforeafter",
		},
		{
			name:     "normalizes line endings",
			input:    "one\r\ntwo\rthree",
			expected: "one\ntwo\nthree",
		},
		{
			name:     "trims lines and overall",
			input:    "   hello   \n   world   ",
			expected: "hello\nworld",
		},
		{
			name:     "empty input",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CleanText(tt.input))
		})
	}
}

func TestIsValidPDFBytes(t *testing.T) {
	assert.True(t, IsValidPDFBytes([]byte("%PDF-1.7 rest of file")))
	assert.False(t, IsValidPDFBytes([]byte("not a pdf")))
	assert.False(t, IsValidPDFBytes([]byte("%PD")))
	assert.False(t, IsValidPDFBytes(nil))
}

func TestProcessedDocumentText(t *testing.T) {
	doc := &ProcessedDocument{
		Pages: []ProcessedPage{
			{PageNumber: 1, Text: "first page"},
			{PageNumber: 2, Text: ""},
			{PageNumber: 3, Text: "third page"},
		},
	}

	assert.Equal(t, "first page\n\nthird page", doc.GetFullText())
	assert.Equal(t, "first page", doc.GetPageText(1))
	assert.Equal(t, "", doc.GetPageText(2))
	assert.Equal(t, "", doc.GetPageText(0))
	assert.Equal(t, "", doc.GetPageText(10))
}

func TestParsePDFDate(t *testing.T) {
	got := parsePDFDate("D:20230615120000")
	assert.Equal(t, 2023, got.Year())
	assert.Equal(t, 15, got.Day())

	assert.True(t, parsePDFDate("garbage").IsZero())
}

func TestParseKeywords(t *testing.T) {
	assert.Equal(t, []string{"rag", "retrieval", "evaluation"}, parseKeywords("rag, retrieval; evaluation"))
	assert.Nil(t, parseKeywords("  ,  ;  "))
}
