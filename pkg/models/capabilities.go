package models

import (
	"encoding/json"
	"strings"
)

// CapSet is a set of capability tags.
type CapSet map[string]struct{}

// NewCapSet builds a CapSet from a list, dropping empty entries.
func NewCapSet(caps []string) CapSet {
	set := make(CapSet, len(caps))
	for _, c := range caps {
		c = strings.TrimSpace(c)
		if c != "" {
			set[c] = struct{}{}
		}
	}
	return set
}

// Contains reports whether cap is in the set.
func (s CapSet) Contains(cap string) bool {
	_, ok := s[cap]
	return ok
}

// SubsetOf reports whether every capability in s is present in other.
func (s CapSet) SubsetOf(other CapSet) bool {
	for c := range s {
		if !other.Contains(c) {
			return false
		}
	}
	return true
}

// ParseWorkerCaps parses the X-Worker-Caps header value: either a JSON array
// of strings or a comma-separated list. An empty or unparseable value yields
// an empty set.
func ParseWorkerCaps(header string) CapSet {
	header = strings.TrimSpace(header)
	if header == "" {
		return CapSet{}
	}
	if strings.HasPrefix(header, "[") {
		var arr []string
		if err := json.Unmarshal([]byte(header), &arr); err == nil {
			return NewCapSet(arr)
		}
		// fall through to comma parsing on malformed JSON
	}
	return NewCapSet(strings.Split(header, ","))
}

// requirementDescriptor is the stored shape of the requires column,
// e.g. {"caps":["llm:vllm"]}.
type requirementDescriptor struct {
	Caps []string `json:"caps"`
}

// RequiredCaps parses a job's requires JSON. A nil, blank, or invalid value
// returns (nil, false): the job has no requirement and matches any worker.
func RequiredCaps(requires *string) (CapSet, bool) {
	if requires == nil {
		return nil, false
	}
	raw := strings.TrimSpace(*requires)
	if raw == "" {
		return nil, false
	}
	var desc requirementDescriptor
	if err := json.Unmarshal([]byte(raw), &desc); err != nil {
		return nil, false
	}
	if desc.Caps == nil {
		return nil, false
	}
	return NewCapSet(desc.Caps), true
}

// Claimable reports whether a job with the given requires descriptor may be
// claimed by a worker offering workerCaps: the requirement must be absent,
// empty, or a subset of the offered set.
func Claimable(requires *string, workerCaps CapSet) bool {
	required, ok := RequiredCaps(requires)
	if !ok || len(required) == 0 {
		return true
	}
	return required.SubsetOf(workerCaps)
}
