package text_test

import (
	"testing"

	"github.com/book-expert/indextts-service/internal/text"
	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "empty", input: "", expected: ""},
		{name: "plain", input: "hello", expected: "hello"},
		{name: "trims", input: "  hello world \n", expected: "hello world"},
		{name: "collapses spaces and tabs", input: "hello \t  world", expected: "hello world"},
		{name: "windows line breaks", input: "first line\r\nsecond line\rthird", expected: "first line\nsecond line\nthird"},
		{name: "keeps one blank line", input: "para one\n\n\n\npara two", expected: "para one\n\npara two"},
		{name: "strips space around breaks", input: "one  \n   two", expected: "one\ntwo"},
		{name: "smart quotes", input: "“Hi,” she said, ‘ok’", expected: `"Hi," she said, 'ok'`},
		{name: "ellipsis", input: "wait…", expected: "wait..."},
		{name: "non-breaking space", input: "100\u00a0km", expected: "100 km"},
		{name: "chinese text untouched", input: "你好，世界", expected: "你好，世界"},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, testCase.expected, text.Normalize(testCase.input))
		})
	}
}
