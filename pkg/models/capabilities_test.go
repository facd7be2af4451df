package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func strPtr(s string) *string { return &s }

func TestParseWorkerCaps(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   []string
	}{
		{"empty", "", nil},
		{"whitespace", "   ", nil},
		{"json array", `["llm:vllm","repo_tools"]`, []string{"llm:vllm", "repo_tools"}},
		{"json array with blanks", `["a","","  "]`, []string{"a"}},
		{"comma separated", "llm:vllm, repo_tools", []string{"llm:vllm", "repo_tools"}},
		{"malformed json falls back to comma", `["broken`, []string{`["broken`}},
		{"empty json array", `[]`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseWorkerCaps(tt.header)
			assert.Len(t, got, len(tt.want))
			for _, c := range tt.want {
				assert.True(t, got.Contains(c), "missing cap %q", c)
			}
		})
	}
}

func TestRequiredCaps(t *testing.T) {
	caps, ok := RequiredCaps(nil)
	assert.False(t, ok)
	assert.Nil(t, caps)

	caps, ok = RequiredCaps(strPtr(""))
	assert.False(t, ok)
	assert.Nil(t, caps)

	caps, ok = RequiredCaps(strPtr("not json"))
	assert.False(t, ok)
	assert.Nil(t, caps)

	caps, ok = RequiredCaps(strPtr(`{"caps":["llm:vllm"]}`))
	assert.True(t, ok)
	assert.True(t, caps.Contains("llm:vllm"))

	// "caps" key absent means no requirement
	_, ok = RequiredCaps(strPtr(`{"other":true}`))
	assert.False(t, ok)

	// explicit empty caps list is an empty requirement
	caps, ok = RequiredCaps(strPtr(`{"caps":[]}`))
	assert.True(t, ok)
	assert.Empty(t, caps)
}

func TestClaimable(t *testing.T) {
	worker := NewCapSet([]string{"llm:vllm", "repo_tools"})

	assert.True(t, Claimable(nil, worker))
	assert.True(t, Claimable(strPtr(""), worker))
	assert.True(t, Claimable(strPtr("garbage"), worker))
	assert.True(t, Claimable(strPtr(`{"caps":[]}`), worker))
	assert.True(t, Claimable(strPtr(`{"caps":["repo_tools"]}`), worker))
	assert.True(t, Claimable(strPtr(`{"caps":["repo_tools","llm:vllm"]}`), worker))
	assert.False(t, Claimable(strPtr(`{"caps":["gpu:h100"]}`), worker))

	// a requirement is never satisfied by an empty offer
	assert.False(t, Claimable(strPtr(`{"caps":["repo_tools"]}`), CapSet{}))
}

func TestStatus(t *testing.T) {
	assert.True(t, StatusQueued.Valid())
	assert.True(t, StatusDone.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.False(t, Status("bogus").Valid())
}
