//go:build !integration

package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGuard(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		want    []Condition
		wantErr string
	}{
		{name: "empty", expr: "", want: nil},
		{name: "single condition", expr: "matrix.os == 'ubuntu-latest'", want: []Condition{{Axis: "os", Value: "ubuntu-latest"}}},
		{name: "expression wrapper", expr: "${{ matrix.rust == 'nightly' }}", want: []Condition{{Axis: "rust", Value: "nightly"}}},
		{name: "literal on the left", expr: "'stable' == matrix.rust", want: []Condition{{Axis: "rust", Value: "stable"}}},
		{
			name: "conjunction with parentheses",
			expr: "(matrix.os == 'ubuntu-latest') && (matrix.rust == 'stable' && matrix.arch == 'x86_64')",
			want: []Condition{{Axis: "os", Value: "ubuntu-latest"}, {Axis: "rust", Value: "stable"}, {Axis: "arch", Value: "x86_64"}},
		},
		{name: "escaped quote", expr: "matrix.name == 'it''s'", want: []Condition{{Axis: "name", Value: "it's"}}},
		{name: "disjunction", expr: "matrix.os == 'a' || matrix.os == 'b'", wantErr: "only == and && are supported"},
		{name: "inequality", expr: "matrix.os != 'a'", wantErr: "only == and && are supported"},
		{name: "non-matrix context", expr: "github.ref == 'refs/heads/main'", wantErr: "may only reference matrix axes"},
		{name: "function call", expr: "always()", wantErr: "expected '=='"},
		{name: "unterminated string", expr: "matrix.os == 'ubuntu", wantErr: "unterminated string"},
		{name: "missing paren", expr: "(matrix.os == 'a'", wantErr: "missing ')'"},
		{name: "trailing tokens", expr: "matrix.os == 'a' matrix.rust", wantErr: "unexpected"},
		{name: "two identifiers", expr: "matrix.os == matrix.rust", wantErr: "quoted string"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseGuard(tt.expr)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Conditions)
		})
	}
}

func TestGuardRenderRoundTrip(t *testing.T) {
	g := Guard{Conditions: []Condition{{Axis: "os", Value: "ubuntu-latest"}, {Axis: "name", Value: "it's"}}}
	rendered := g.Render()
	assert.Equal(t, "matrix.os == 'ubuntu-latest' && matrix.name == 'it''s'", rendered)

	parsed, err := ParseGuard(rendered)
	require.NoError(t, err)
	assert.Equal(t, g, parsed)
	assert.Empty(t, Guard{}.Render(), "the zero guard renders as nothing")
}

func TestGuardMatches(t *testing.T) {
	combo := Combination{{Axis: "os", Value: "ubuntu-latest"}, {Axis: "rust", Value: "nightly"}}

	assert.True(t, Guard{}.Matches(combo), "the zero guard matches everything")
	assert.True(t, When("os", "ubuntu-latest").Matches(combo))
	assert.False(t, When("os", "windows-latest").Matches(combo))
	assert.False(t, When("arch", "arm64").Matches(combo), "unbound axes never match")
	assert.False(t, Guard{Conditions: []Condition{{Axis: "os", Value: "ubuntu-latest"}, {Axis: "rust", Value: "stable"}}}.Matches(combo),
		"every condition must hold")
}
