package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/llm-x/llmx/pkg/blob"
	"github.com/llm-x/llmx/pkg/chat"
	"github.com/llm-x/llmx/pkg/connection"
	"github.com/llm-x/llmx/pkg/events"
	"github.com/llm-x/llmx/pkg/generation"
	"github.com/llm-x/llmx/pkg/store"
)

// consoleHandler prints streamed deltas to stdout as they arrive.
type consoleHandler struct{}

var _ events.Handler = (*consoleHandler)(nil)

func (h *consoleHandler) HandleStart(ctx context.Context, e *events.Event) error {
	return nil
}

func (h *consoleHandler) HandlePartial(ctx context.Context, e *events.Event) error {
	fmt.Print(e.Delta)
	return nil
}

func (h *consoleHandler) HandleFinal(ctx context.Context, e *events.Event) error {
	fmt.Println()
	return nil
}

func (h *consoleHandler) HandleInterrupt(ctx context.Context, e *events.Event) error {
	fmt.Println()
	return nil
}

func (h *consoleHandler) HandleError(ctx context.Context, e *events.Event) error {
	fmt.Printf("\n[error: %s]\n", e.Error)
	return nil
}

func newChatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context())
		},
	}
	return cmd
}

func openStore() (*store.SQLiteStore, blob.Store, error) {
	dir := dataDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, nil, errors.Wrapf(err, "could not create data directory %s", dir)
	}

	blobs, err := blob.NewFilesystemStore(filepath.Join(dir, "blobs"))
	if err != nil {
		return nil, nil, err
	}

	db, err := store.Open(filepath.Join(dir, "llmx.db"), blobs)
	if err != nil {
		return nil, nil, err
	}
	return db, blobs, nil
}

func connectionConfig() connection.Config {
	return connection.Config{
		Type:   connection.ApiType(viper.GetString("type")),
		Host:   viper.GetString("host"),
		APIKey: viper.GetString("api-key"),
		Model:  viper.GetString("model"),
	}
}

func runChat(ctx context.Context) error {
	db, blobs, err := openStore()
	if err != nil {
		return err
	}
	defer func() {
		_ = db.Close()
	}()

	config := connectionConfig()
	if config.Model == "" {
		return errors.New("no model specified, use --model")
	}
	adapter, err := connection.NewAdapter(config)
	if err != nil {
		return err
	}

	chatRecord, err := db.Chats().Create(ctx, &chat.ChatModel{})
	if err != nil {
		return err
	}
	chatView := chat.NewChatViewModel(chatRecord, db.Chats(), db.Messages(), blobs)

	router, err := events.NewEventRouter(events.WithRouterLogger(log.Logger))
	if err != nil {
		return err
	}
	defer func() {
		_ = router.Close()
	}()
	router.AddEventHandler("console", "chat", &consoleHandler{})

	routerCtx, stopRouter := context.WithCancel(ctx)
	defer stopRouter()
	go func() {
		if err := router.Run(routerCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("event router stopped")
		}
	}()
	<-router.Running()

	publisher := events.NewPublisherManager()
	publisher.SubscribePublisher("chat", router.Publisher)

	coordinator := generation.NewCoordinator(generation.RequestContext{
		Adapter:      adapter,
		Model:        config.Model,
		SystemPrompt: viper.GetString("system-prompt"),
		Parameters:   config.Parameters,
		Blobs:        blobs,
	}, publisher)

	// Ctrl-C cancels the active stream instead of killing the session.
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupts)
	go func() {
		for range interrupts {
			coordinator.CancelAll()
		}
	}()

	fmt.Printf("chatting with %s (%s), /help for commands\n", config.Model, config.Type)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())

		switch {
		case line == "/quit" || line == "/exit":
			return nil

		case line == "/help":
			fmt.Println("/image <path>  stage an image attachment")
			fmt.Println("/regen         regenerate the reply to the last user message")
			fmt.Println("/quit          leave the session")

		case strings.HasPrefix(line, "/image "):
			path := strings.TrimSpace(strings.TrimPrefix(line, "/image "))
			if err := stageImage(chatView, path); err != nil {
				fmt.Printf("could not stage image: %s\n", err)
			}

		case line == "/regen":
			chatView.FindAndEditPreviousMessage()
			if err := chatView.FindAndRegenerateResponse(ctx, coordinator); err != nil {
				log.Error().Err(err).Msg("regeneration failed")
			}

		case line == "":
			continue

		default:
			if err := sendMessage(ctx, chatView, coordinator, config, line); err != nil {
				log.Error().Err(err).Msg("send failed")
			}
		}
	}

	return scanner.Err()
}

func stageImage(chatView *chat.ChatViewModel, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "could not read %s", path)
	}
	ref, err := chatView.PreviewImages().AddPreviewImage(data)
	if err != nil {
		return err
	}
	fmt.Printf("staged %s\n", ref)
	return nil
}

func sendMessage(
	ctx context.Context,
	chatView *chat.ChatViewModel,
	coordinator *generation.Coordinator,
	config connection.Config,
	content string,
) error {
	if _, err := chatView.AddUserMessage(ctx, content); err != nil {
		return err
	}

	incoming, err := chatView.AddIncomingMessage(ctx, config.Model, string(config.Type))
	if err != nil {
		return err
	}

	return coordinator.GenerateVariation(ctx, chatView, incoming)
}
