package config

import "strings"

// DefaultAllowedTools is the tool allowlist used when LLM_ALLOWED_TOOLS is
// unset: every read-only repo tool plus the plan scaffolds.
var DefaultAllowedTools = []string{
	"repo_list",
	"repo_status",
	"repo_last_commit",
	"repo_grep",
	"repo_readfile",
	"plan_echo",
	"approve_echo",
}

// LLMConfig holds the worker's LLM endpoint and tool-loop configuration.
type LLMConfig struct {
	BaseURL      string
	APIKey       string
	Model        string
	Temperature  float64
	MaxTokens    int
	MaxSteps     int
	AllowedTools map[string]struct{}
}

// LoadLLMFromEnv reads LLM configuration with defaults.
func LoadLLMFromEnv() *LLMConfig {
	allowed := make(map[string]struct{})
	if raw := getEnv("LLM_ALLOWED_TOOLS", ""); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				allowed[t] = struct{}{}
			}
		}
	}
	if len(allowed) == 0 {
		for _, t := range DefaultAllowedTools {
			allowed[t] = struct{}{}
		}
	}

	return &LLMConfig{
		BaseURL:      strings.TrimRight(getEnv("LLM_BASE_URL", ""), "/"),
		APIKey:       getEnv("LLM_API_KEY", ""),
		Model:        getEnv("LLM_MODEL", ""),
		Temperature:  getEnvFloat("LLM_TEMPERATURE", 0.2),
		MaxTokens:    getEnvInt("LLM_MAX_TOKENS", 4096),
		MaxSteps:     getEnvInt("LLM_TOOL_LOOP_MAX_STEPS", 6),
		AllowedTools: allowed,
	}
}

// Configured reports whether the endpoint is usable: base URL and model set.
func (c *LLMConfig) Configured() bool {
	return c.BaseURL != "" && c.Model != ""
}

// ToolAllowed reports whether name is in the allowlist.
func (c *LLMConfig) ToolAllowed(name string) bool {
	_, ok := c.AllowedTools[name]
	return ok
}
