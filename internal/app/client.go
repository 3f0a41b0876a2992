package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"erpchat/internal/api"
	"erpchat/internal/chat"
	"erpchat/internal/logging"
	"erpchat/internal/protocol"
	"erpchat/internal/socket"
	"erpchat/internal/tui"
)

// RunClient connects to the socket URL and runs the terminal UI until the
// user quits.
func RunClient(ctx context.Context, cfg ClientConfig) error {
	if cfg.SocketURL == "" {
		return errors.New("socket URL is required")
	}
	if cfg.UserID == "" {
		return errors.New("user id is required")
	}
	if cfg.UserName == "" {
		cfg.UserName = cfg.UserID
	}
	if cfg.LogPath == "" {
		cfg.LogPath = DefaultLogPath()
	}
	apiBase := cfg.APIBase
	if apiBase == "" {
		base, err := api.BaseFromSocketURL(cfg.SocketURL)
		if err != nil {
			return err
		}
		apiBase = base
	}

	// stdout belongs to the UI
	logger, logFile, err := logging.NewFile(cfg.LogPath)
	if err != nil {
		return fmt.Errorf("open client log: %w", err)
	}
	defer logFile.Close()
	logger = logger.With().Str("user", cfg.UserID).Logger()

	rest := api.New(apiBase, nil)
	rest.UserID = cfg.UserID

	viewer := chat.Viewer{ID: cfg.UserID, Name: cfg.UserName}
	var conn *socket.Client
	model := tui.New(tui.Config{
		Viewer: viewer,
		Server: cfg.SocketURL,
		Room:   cfg.Room,
		Open: func(room protocol.RoomKey, peerID string, onChange func(chat.Change)) (tui.Session, error) {
			r, err := chat.Open(chat.Config{
				Room:        room,
				PeerID:      peerID,
				Viewer:      viewer,
				Transport:   conn,
				History:     rest,
				Uploader:    rest,
				NewClientID: uuid.NewString,
				Logger:      logger,
				OnChange:    onChange,
			})
			if err != nil {
				return nil, err
			}
			return r, nil
		},
	})

	conn = socket.New(cfg.SocketURL, socket.Options{
		Notifier: model.Notifier(),
		Logger:   logger,
	})
	defer func() {
		// leave the room while the connection is still up
		model.Close()
		_ = conn.Close()
	}()

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := conn.Dial(dialCtx); err != nil {
		// already surfaced as a toast; the client keeps retrying
		logger.Warn().Err(err).Msg("initial dial failed")
	}
	cancel()

	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err = program.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
