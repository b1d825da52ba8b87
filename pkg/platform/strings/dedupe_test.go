package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrim(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{
			name: "nil slice",
			in:   nil,
			want: nil,
		},
		{
			name: "empty slice",
			in:   []string{},
			want: []string{},
		},
		{
			name: "trims whitespace",
			in:   []string{"  foo  ", "bar  ", "  baz"},
			want: []string{"foo", "bar", "baz"},
		},
		{
			name: "removes duplicates preserving first-occurrence order",
			in:   []string{"c", "a", "c", "b", "a"},
			want: []string{"c", "a", "b"},
		},
		{
			name: "drops blank entries",
			in:   []string{"foo", "", "  ", "\t", "bar"},
			want: []string{"foo", "bar"},
		},
		{
			name: "case sensitive",
			in:   []string{"Foo", "foo", "FOO"},
			want: []string{"Foo", "foo", "FOO"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DedupeAndTrim(tt.in))
		})
	}
}
