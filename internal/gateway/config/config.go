package config

import (
	"flag"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port      string
	Env       string
	AuthToken string
	Origins   []string
	Name      string
	Threads   ThreadStoreConfig
	Artifact  ArtifactConfig
	Assistant AssistantConfig
	Features  FeatureConfig
}

type ThreadStoreConfig struct {
	Path      string
	DSN       string
	CacheSize int
}

type ArtifactConfig struct {
	Enabled   bool
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// Dir holds uploads on local disk when neither S3 nor Postgres is set.
	Dir string
}

type AssistantConfig struct {
	GeminiAPIKey string
	Model        string
	RPS          float64
	Burst        int
	MaxAttempts  int
}

type FeatureConfig struct {
	ThreadResumable bool
	DataPersistence bool
	UploadEnabled   bool
	UploadMaxFiles  int
	UploadMaxSizeMB int
	UploadAccept    []string
}

// Load reads .env, flags and the environment, in increasing precedence for
// the port and from the environment only for everything else.
func Load() (*Config, error) {
	return LoadArgs(os.Args[1:])
}

func LoadArgs(args []string) (*Config, error) {
	_ = godotenv.Load()

	fs := flag.NewFlagSet("gateway", flag.ContinueOnError)
	port := fs.String("port", ":8081", "server port")
	dataDir := fs.String("data", "tmp", "directory for the file thread store")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if envPort := os.Getenv("PORT"); envPort != "" {
		if strings.HasPrefix(envPort, ":") {
			*port = envPort
		} else {
			*port = ":" + envPort
		}
	}

	env := strings.TrimSpace(os.Getenv("APP_ENV"))
	if env == "" {
		env = "local"
	}

	return &Config{
		Port:      *port,
		Env:       env,
		AuthToken: strings.TrimSpace(os.Getenv("GATEWAY_AUTH_TOKEN")),
		Origins:   splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
		Name:      firstNonEmpty(strings.TrimSpace(os.Getenv("ASSISTANT_NAME")), "Assistant"),
		Threads: ThreadStoreConfig{
			Path:      filepath.Join(*dataDir, "threads.json"),
			DSN:       strings.TrimSpace(os.Getenv("THREAD_STORE_PG_DSN")),
			CacheSize: envInt("THREAD_CACHE_SIZE", 256),
		},
		Artifact: loadArtifactConfig(env, filepath.Join(*dataDir, "uploads")),
		Assistant: AssistantConfig{
			GeminiAPIKey: firstNonEmpty(strings.TrimSpace(os.Getenv("GEMINI_API_KEY")), strings.TrimSpace(os.Getenv("GOOGLE_API_KEY"))),
			Model:        firstNonEmpty(strings.TrimSpace(os.Getenv("GEMINI_MODEL")), "gemini-2.5-flash"),
		},
		Features: FeatureConfig{
			ThreadResumable: envBool("THREAD_RESUMABLE", true),
			DataPersistence: envBool("DATA_PERSISTENCE", true),
			UploadEnabled:   envBool("UPLOAD_ENABLED", true),
			UploadMaxFiles:  envInt("UPLOAD_MAX_FILES", 20),
			UploadMaxSizeMB: envInt("UPLOAD_MAX_SIZE_MB", 500),
			UploadAccept:    splitList(os.Getenv("UPLOAD_ACCEPT")),
		},
	}, nil
}

func loadArtifactConfig(env, dir string) ArtifactConfig {
	endpoint := resolveArtifactEndpoint(env)
	return ArtifactConfig{
		Enabled:   endpoint != "",
		Endpoint:  endpoint,
		Region:    firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_S3_REGION")), "us-east-1"),
		AccessKey: firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_S3_ACCESS_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_USER"))),
		SecretKey: firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_S3_SECRET_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_PASSWORD"))),
		Bucket:    firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_S3_BUCKET")), "chatwire-uploads"),
		UseSSL:    resolveArtifactUseSSL(env),
		Dir:       dir,
	}
}

func resolveArtifactEndpoint(env string) string {
	if strings.EqualFold(strings.TrimSpace(env), "local") {
		return strings.TrimSpace(os.Getenv("ARTIFACT_MINIO_ENDPOINT"))
	}
	return strings.TrimSpace(os.Getenv("ARTIFACT_S3_ENDPOINT"))
}

func resolveArtifactUseSSL(env string) bool {
	if strings.EqualFold(strings.TrimSpace(env), "local") {
		return false
	}
	return envBool("ARTIFACT_S3_USE_SSL", true)
}

func envBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

func envFloat(key string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
