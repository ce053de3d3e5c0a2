package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFilter(t *testing.T) {
	tests := []struct {
		name    string
		specs   []string
		want    Filter
		wantErr bool
	}{
		{name: "empty", specs: nil, want: Filter{}},
		{
			name:  "event only",
			specs: []string{"push"},
			want:  Filter{"push": {}},
		},
		{
			name:  "event with actions",
			specs: []string{"Issues:Opened, closed"},
			want:  Filter{"issues": {"opened": {}, "closed": {}}},
		},
		{
			name:  "repeated event merges actions",
			specs: []string{"issues:opened", "issues:labeled"},
			want:  Filter{"issues": {"opened": {}, "labeled": {}}},
		},
		{
			name:  "bare event widens to any action",
			specs: []string{"issues:opened", "issues"},
			want:  Filter{"issues": {}},
		},
		{
			name:  "bare event is not narrowed later",
			specs: []string{"issues", "issues:opened"},
			want:  Filter{"issues": {}},
		},
		{name: "missing event", specs: []string{":opened"}, wantErr: true},
		{name: "empty action list", specs: []string{"issues:"}, wantErr: true},
		{name: "blank", specs: []string{"  "}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFilter(tt.specs)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFilter_Allows(t *testing.T) {
	f, err := ParseFilter([]string{"issues:opened", "push"})
	require.NoError(t, err)

	tests := []struct {
		event, action string
		want          bool
	}{
		{"issues", "opened", true},
		{"issues", "OPENED", true},
		{"issues", "closed", false},
		{"issues", "", false},
		{"pull_request", "opened", false},
		{"push", "", true},
		{"push", "anything", true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, f.Allows(tt.event, tt.action), "Allows(%q, %q)", tt.event, tt.action)
	}
}

func TestFilter_EmptyAllowsEverything(t *testing.T) {
	var f Filter
	assert.True(t, f.Allows("pull_request", "opened"))
	assert.True(t, Filter{}.Allows("ping", ""))
}

func TestFilter_String(t *testing.T) {
	f, err := ParseFilter([]string{"push", "issues:opened,closed"})
	require.NoError(t, err)

	assert.Equal(t, "issues:closed,opened push", f.String())
	assert.Equal(t, "all events", Filter{}.String())
}
