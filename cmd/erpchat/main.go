package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"erpchat/internal/app"
	"erpchat/internal/logging"
)

const (
	modeServer = "server"
	modeClient = "client"
	modeLocal  = "local"
)

func main() {
	app.LoadEnv()
	mode, args := parseMode(os.Args[1:])

	serverDefaults := app.ServerConfigFromEnv()
	if mode == modeLocal && os.Getenv("ERPCHAT_ADDR") == "" {
		serverDefaults.Addr = "127.0.0.1:0"
	}

	flagSet := flag.NewFlagSet("erpchat", flag.ExitOnError)
	addr := flagSet.String("addr", serverDefaults.Addr, "server listen address")
	socketPath := flagSet.String("socket-path", serverDefaults.SocketPath, "websocket path")
	db := flagSet.String("db", serverDefaults.DB, "PostgreSQL URL or SQLite path (defaults to a per-user file)")
	uploadDir := flagSet.String("upload-dir", serverDefaults.UploadDir, "directory for uploaded files")
	maxUpload := flagSet.Int64("max-upload", serverDefaults.MaxUploadBytes, "maximum upload size in bytes")
	origins := flagSet.String("origins", strings.Join(serverDefaults.AllowedOrigins, ","), "comma separated allowed origins")
	socketURL := flagSet.String("socket-url", app.EnvOrDefault("ERPCHAT_SOCKET_URL", "ws://localhost:8080/socket"), "server websocket URL (client mode)")
	apiBase := flagSet.String("api", os.Getenv("ERPCHAT_API_URL"), "HTTP base URL (derived from --socket-url when empty)")
	userID := flagSet.String("user", app.EnvOrDefault("ERPCHAT_USER_ID", os.Getenv("USER")), "your user id")
	userName := flagSet.String("name", os.Getenv("ERPCHAT_USER_NAME"), "display name (defaults to the user id)")
	logPath := flagSet.String("log", os.Getenv("ERPCHAT_LOG"), "client log file")
	quiet := flagSet.Bool("quiet", false, "only log warnings and errors")
	version := flagSet.Bool("version", false, "print the version and exit")
	_ = flagSet.Parse(args)

	if *version {
		fmt.Println("erpchat", app.Version)
		return
	}

	room := ""
	if remaining := flagSet.Args(); len(remaining) > 0 {
		room = strings.Join(remaining, " ")
	}

	serverCfg := serverDefaults
	serverCfg.Addr = *addr
	serverCfg.SocketPath = app.NormalizeSocketPath(*socketPath)
	serverCfg.DB = *db
	serverCfg.UploadDir = *uploadDir
	serverCfg.MaxUploadBytes = *maxUpload
	serverCfg.AllowedOrigins = app.SplitList(*origins)

	clientCfg := app.ClientConfig{
		SocketURL: *socketURL,
		APIBase:   *apiBase,
		UserID:    *userID,
		UserName:  *userName,
		Room:      room,
		LogPath:   *logPath,
	}

	level := zerolog.InfoLevel
	if *quiet {
		level = zerolog.WarnLevel
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch mode {
	case modeServer:
		logger := logging.New(serverCfg.Env, os.Stderr).Level(level)
		err = runServerMode(ctx, serverCfg, logger)
	case modeLocal:
		err = runLocalMode(ctx, serverCfg, clientCfg, level)
	default:
		err = app.RunClient(ctx, clientCfg)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "erpchat: %v\n", err)
		os.Exit(1)
	}
}

func runServerMode(ctx context.Context, cfg app.ServerConfig, logger zerolog.Logger) error {
	handle, err := app.RunServer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	logger.Info().
		Str("addr", handle.Addr()).
		Str("socket_path", cfg.SocketPath).
		Str("version", app.Version).
		Msg("erpchat server listening")
	return handle.Wait()
}

// runLocalMode starts a private server and a client against it. Server logs
// go to a file next to the client log since the terminal belongs to the UI.
func runLocalMode(ctx context.Context, serverCfg app.ServerConfig, clientCfg app.ClientConfig, level zerolog.Level) error {
	logPath := filepath.Join(app.DataDir(), "server.log")
	logger, closer, err := logging.NewFile(logPath)
	if err != nil {
		return fmt.Errorf("open server log: %w", err)
	}
	defer closeQuietly(closer)
	logger = logger.Level(level)

	handle, err := app.RunServer(ctx, serverCfg, logger)
	if err != nil {
		return err
	}
	defer stopServer(handle)

	if err := waitForServer(handle.Addr(), 5*time.Second); err != nil {
		return err
	}
	clientCfg.SocketURL = buildWebsocketURL(handle.Addr(), serverCfg.SocketPath)
	clientCfg.APIBase = ""
	logger.Info().Str("socket_url", clientCfg.SocketURL).Msg("launching local client")

	if err := app.RunClient(ctx, clientCfg); err != nil {
		return err
	}
	stopServer(handle)
	return handle.Wait()
}

func waitForServer(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("server did not become ready: %w", err)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func buildWebsocketURL(addr, path string) string {
	path = app.NormalizeSocketPath(path)
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Sprintf("ws://%s%s", addr, path)
	}
	if host == "" || host == "::" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("ws://%s%s", net.JoinHostPort(host, port), path)
}

func parseMode(args []string) (string, []string) {
	if len(args) == 0 {
		return modeClient, args
	}
	switch strings.ToLower(args[0]) {
	case modeServer, modeClient, modeLocal:
		return strings.ToLower(args[0]), args[1:]
	}
	return modeClient, args
}

func stopServer(handle *app.ServerHandle) {
	if handle == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = handle.Stop(shutdownCtx)
}

func closeQuietly(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}
