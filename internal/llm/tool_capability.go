package llm

import "strings"

// DetectToolCallingCapability reports whether a model is known to support
// reliable native function calling. Models not on this list fall back to
// the xml_fallback ("yaml") tool-call protocol.
//
// Detection is a known-prefix match only. Any other model, including the
// local families matched by the keyword check below, reports false.
func DetectToolCallingCapability(modelName string) bool {
	lower := strings.ToLower(modelName)
	parts := strings.Split(lower, "/")
	baseName := parts[len(parts)-1]

	knownFCModels := []string{
		"gpt-4", "gpt-3.5", "gpt-5", "o1", "o3", "o4",
		"claude-3", "claude-sonnet", "claude-opus", "claude-haiku",
		"deepseek-chat", "deepseek-v3",
		"kimi-k2", "glm-4", "glm-5",
	}
	for _, known := range knownFCModels {
		if strings.HasPrefix(baseName, known) {
			return true
		}
	}

	// Local/community quantized models are empirically unreliable at
	// native tool calls even when they advertise FC support.
	unreliableKeywords := []string{"llama", "mistral", "qwen", "ollama", "gguf"}
	for _, kw := range unreliableKeywords {
		if strings.Contains(baseName, kw) {
			return false
		}
	}

	return false
}

// GetContextWindow returns the known context window (in tokens) for a
// model name, or 0 if unknown. Callers fall back to a safe default.
func GetContextWindow(modelName string) int {
	lower := strings.ToLower(modelName)
	parts := strings.Split(lower, "/")
	baseName := parts[len(parts)-1]

	switch {
	case strings.HasPrefix(baseName, "gpt-5"):
		return 400_000
	case strings.HasPrefix(baseName, "gpt-4o"), strings.HasPrefix(baseName, "gpt-4-turbo"):
		return 128_000
	case strings.HasPrefix(baseName, "o1"), strings.HasPrefix(baseName, "o3"), strings.HasPrefix(baseName, "o4"):
		return 200_000
	case strings.HasPrefix(baseName, "claude-sonnet-4"), strings.HasPrefix(baseName, "claude-opus-4"):
		return 200_000
	case strings.HasPrefix(baseName, "claude-3"):
		return 200_000
	case strings.HasPrefix(baseName, "deepseek"):
		return 64_000
	case strings.HasPrefix(baseName, "kimi-k2"):
		return 256_000
	default:
		return 0
	}
}
