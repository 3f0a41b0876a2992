package app

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// ServerConfig defines how the HTTP/WebSocket backend should run.
type ServerConfig struct {
	Addr       string
	SocketPath string
	// DB is a PostgreSQL URL or a SQLite file path.
	DB             string
	UploadDir      string
	MaxUploadBytes int64
	AllowedOrigins []string
	Env            string
}

// ClientConfig defines the parameters the TUI client needs.
type ClientConfig struct {
	// SocketURL is the only address the client must know; the HTTP base is
	// derived from it unless APIBase is set.
	SocketURL string
	APIBase   string
	UserID    string
	UserName  string
	Room      string
	LogPath   string
}

// LoadEnv reads a .env file from the working directory when there is one.
// Variables already set in the environment win.
func LoadEnv() {
	_ = godotenv.Load()
}

// ServerConfigFromEnv fills a ServerConfig from ERPCHAT_* variables.
func ServerConfigFromEnv() ServerConfig {
	return ServerConfig{
		Addr:           EnvOrDefault("ERPCHAT_ADDR", ":8080"),
		SocketPath:     NormalizeSocketPath(os.Getenv("ERPCHAT_SOCKET_PATH")),
		DB:             EnvOrDefault("ERPCHAT_DB", ""),
		UploadDir:      EnvOrDefault("ERPCHAT_UPLOAD_DIR", ""),
		MaxUploadBytes: envInt64("ERPCHAT_MAX_UPLOAD", 25<<20),
		AllowedOrigins: SplitList(os.Getenv("ERPCHAT_ALLOWED_ORIGINS")),
		Env:            EnvOrDefault("ERPCHAT_ENV", "development"),
	}
}

func EnvOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// SplitList splits a comma separated value, dropping blanks.
func SplitList(raw string) []string {
	var out []string
	for _, entry := range strings.Split(raw, ",") {
		if entry = strings.TrimSpace(entry); entry != "" {
			out = append(out, entry)
		}
	}
	return out
}

// DataDir returns the per-user directory for the database, uploads and the
// client log.
func DataDir() string {
	if env := os.Getenv("ERPCHAT_DATA_DIR"); env != "" {
		return env
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "erpchat")
	}
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "Erpchat")
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, "Library", "Application Support", "Erpchat")
		}
		return filepath.Join(home, ".local", "share", "erpchat")
	}
	return filepath.Join(".", ".erpchat")
}

// DefaultDBPath returns the bundled SQLite file location.
func DefaultDBPath() string {
	return filepath.Join(DataDir(), "erpchat.db")
}

func DefaultUploadDir() string {
	return filepath.Join(DataDir(), "uploads")
}

func DefaultLogPath() string {
	return filepath.Join(DataDir(), "client.log")
}

// NormalizeSocketPath guarantees the websocket path starts with '/' and
// falls back to /socket when empty.
func NormalizeSocketPath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return "/socket"
	}
	if path[0] != '/' {
		return "/" + path
	}
	return path
}
