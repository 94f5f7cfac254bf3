package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variable names read by the pipeline.
const (
	// EnvDataMountPath is the root directory for per-source data folders.
	EnvDataMountPath = "DATA_MOUNT_PATH"

	// EnvEmbeddingAPIURL points at a running embedding server.
	EnvEmbeddingAPIURL = "EMBEDDING_API_URL"

	// EnvDenseEmbeddingModel names the dense embedding model.
	EnvDenseEmbeddingModel = "DENSE_EMBEDDING_MODEL"

	// EnvLogDir is where run logs are written.
	EnvLogDir = "LOG_DIR"
)

var (
	envVarPatterns = struct {
		withDefault *regexp.Regexp
		braced      *regexp.Regexp
		simple      *regexp.Regexp
	}{
		withDefault: regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*):-(.*?)\}`),
		braced:      regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)\}`),
		simple:      regexp.MustCompile(`\$([A-Z_][A-Z0-9_]*)`),
	}
)

func expandEnvVars(s string) string {
	if !strings.Contains(s, "$") {
		return s
	}

	s = envVarPatterns.withDefault.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPatterns.withDefault.FindStringSubmatch(match)
		if len(parts) == 3 {
			if val := os.Getenv(parts[1]); val != "" {
				return val
			}
			return parts[2]
		}
		return match
	})

	s = envVarPatterns.braced.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPatterns.braced.FindStringSubmatch(match)
		if len(parts) == 2 {
			return os.Getenv(parts[1])
		}
		return match
	})

	s = envVarPatterns.simple.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPatterns.simple.FindStringSubmatch(match)
		if len(parts) == 2 {
			return os.Getenv(parts[1])
		}
		return match
	})

	return s
}

func parseValue(value string) interface{} {
	switch strings.ToLower(value) {
	case "true":
		return true
	case "false":
		return false
	}

	if intVal, err := strconv.Atoi(value); err == nil {
		return intVal
	}

	if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
		return floatVal
	}

	return value
}

// ExpandEnvVarsInData walks a decoded YAML tree and expands ${VAR},
// ${VAR:-default}, and $VAR in every string. Expanded strings that look like
// numbers or booleans are converted so weakly typed decoding stays exact.
func ExpandEnvVarsInData(data interface{}) interface{} {
	switch v := data.(type) {
	case string:
		expanded := expandEnvVars(v)
		if expanded != v {
			return parseValue(expanded)
		}
		return expanded

	case map[string]interface{}:
		result := make(map[string]interface{}, len(v))
		for key, value := range v {
			result[key] = ExpandEnvVarsInData(value)
		}
		return result

	case []interface{}:
		result := make([]interface{}, len(v))
		for i, item := range v {
			result[i] = ExpandEnvVarsInData(item)
		}
		return result

	default:
		return v
	}
}

// LoadEnvFiles loads .env.local and .env from the working directory.
// Missing files are fine; malformed files are not.
func LoadEnvFiles() error {
	envFiles := []string{".env.local", ".env"}

	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}

	return nil
}

// DataMountPath returns the root directory for data folders, defaulting to
// ./data when DATA_MOUNT_PATH is unset.
func DataMountPath() string {
	if p := os.Getenv(EnvDataMountPath); p != "" {
		return p
	}
	return "data"
}

// EmbeddingAPIURL returns the configured embedding server URL, if any.
func EmbeddingAPIURL() string {
	return os.Getenv(EnvEmbeddingAPIURL)
}

// DenseEmbeddingModel returns the dense embedding model name, defaulting to
// a small multilingual sentence transformer.
func DenseEmbeddingModel() string {
	if m := os.Getenv(EnvDenseEmbeddingModel); m != "" {
		return m
	}
	return "sentence-transformers/all-mpnet-base-v2"
}

// LogDir returns the run-log directory, or empty when logs go to stderr.
func LogDir() string {
	return os.Getenv(EnvLogDir)
}

// ThreadCapEnv returns the environment entries that pin numerical libraries
// to one thread each. Applied during worker initialization so W workers do
// not oversubscribe the CPU.
func ThreadCapEnv() []string {
	return []string{
		"OMP_NUM_THREADS=1",
		"OPENBLAS_NUM_THREADS=1",
		"MKL_NUM_THREADS=1",
		"VECLIB_MAXIMUM_THREADS=1",
		"NUMEXPR_NUM_THREADS=1",
	}
}

// GetProviderAPIKey returns the conventional API key env var for a provider.
func GetProviderAPIKey(providerType string) string {
	switch providerType {
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "gemini":
		return os.Getenv("GEMINI_API_KEY")
	default:
		return ""
	}
}
