package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegexFilter(t *testing.T) {
	tests := []struct {
		name    string
		include []string
		exclude []string
		file    string
		want    bool
	}{
		{name: "no rules", file: "/src/a.c", want: true},
		{name: "included", include: []string{`^/src/`}, file: "/src/a.c", want: true},
		{name: "not included", include: []string{`^/src/`}, file: "/usr/include/stdio.h", want: false},
		{name: "excluded", exclude: []string{`\.h$`}, file: "/src/a.h", want: false},
		{name: "exclude wins", include: []string{`^/src/`}, exclude: []string{`/vendor/`}, file: "/src/vendor/x.c", want: false},
		{name: "empty pattern ignored", include: []string{""}, file: "/x.c", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewRegexFilter(tt.include, tt.exclude)
			require.NoError(t, err)

			assert.Equal(t, tt.want, f.Match(tt.file))
			assert.Equal(t, tt.want, f.Filter()(tt.file))
		})
	}
}

func TestRegexFilter_BadPattern(t *testing.T) {
	_, err := NewRegexFilter([]string{"("}, nil)
	require.Error(t, err)

	_, err = NewRegexFilter(nil, []string{"["})
	require.Error(t, err)
}
