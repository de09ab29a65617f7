package main

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"

	chatkit "github.com/allais-space/chatkit"
	"github.com/allais-space/chatkit/internal/config"
	"github.com/allais-space/chatkit/internal/domain"
	"github.com/allais-space/chatkit/internal/repository"
	"github.com/allais-space/chatkit/internal/service"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to database
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Run migrations
	migrationsFS, err := fs.Sub(chatkit.MigrationsFS, "migrations")
	if err != nil {
		slog.Error("failed to load embedded migrations", "error", err)
		os.Exit(1)
	}
	if err := repository.RunMigrations(cfg.DatabaseURL, migrationsFS); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	store := repository.NewStore(pool)

	models := []domain.AIModel{
		{
			ID:              "ChatGPT",
			Name:            "ChatGPT",
			WebhookURL:      cfg.ChatGPTWebhookURL,
			PromptPrice:     cfg.ChatGPTPromptPrice,
			CompletionPrice: cfg.ChatGPTCompletionPrice,
		},
		{
			ID:              "Gemini",
			Name:            "Gemini",
			WebhookURL:      cfg.GeminiWebhookURL,
			PromptPrice:     cfg.GeminiPromptPrice,
			CompletionPrice: cfg.GeminiCompletionPrice,
		},
	}

	transport := service.NewTransportClient(models, cfg.Language)
	chat := service.NewChatService(ctx, transport, store, cfg.UserID, cfg.DefaultModel)
	defer chat.Close()

	run(ctx, chat)
	slog.Info("chat stopped")
}

var (
	promptColor    = color.New(color.FgGreen, color.Bold)
	assistantColor = color.New(color.FgCyan)
	errorColor     = color.New(color.FgRed)
	infoColor      = color.New(color.FgYellow)
)

func run(ctx context.Context, chat *service.ChatService) {
	// Render assistant output incrementally from conversation events.
	var printed int
	unsubscribe := chat.Subscribe(func(ev service.Event) {
		switch ev.Type {
		case service.EventMessageAppended:
			if ev.Message.Role == domain.RoleAssistant {
				printed = 0
				assistantColor.Print("assistant> ")
			}
		case service.EventMessageUpdated:
			if ev.Message.Role != domain.RoleAssistant {
				return
			}
			if ev.Message.Error {
				fmt.Println()
				errorColor.Printf("%s (use /retry)\n", ev.Message.Content)
				printed = len(ev.Message.Content)
				return
			}
			if len(ev.Message.Content) < printed {
				// The real response replaced the typing placeholder.
				fmt.Println()
				assistantColor.Print("assistant> ")
				printed = 0
			}
			assistantColor.Print(ev.Message.Content[printed:])
			printed = len(ev.Message.Content)
		}
	})
	defer unsubscribe()

	infoColor.Println("commands: /reset /retry /load <id> /delete <id> /model <name> /quit")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		if ctx.Err() != nil {
			return
		}
		if chat.HasReachedDailyLimit() {
			infoColor.Printf("daily limit of %d messages reached\n", config.MaxDailyMessages)
		}
		promptColor.Print("you> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if !handleCommand(ctx, chat, line) {
				return
			}
			continue
		}

		if err := chat.SendMessage(ctx, line, nil); err != nil {
			errorColor.Printf("send failed: %v\n", err)
			continue
		}
		fmt.Println()
	}
}

// handleCommand runs a slash command; returns false to quit.
func handleCommand(ctx context.Context, chat *service.ChatService, line string) bool {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/quit", "/exit":
		return false
	case "/reset":
		chat.ResetChat()
		infoColor.Println("conversation reset")
	case "/retry":
		id := lastFailedMessageID(chat)
		if id == "" {
			infoColor.Println("nothing to retry")
			return true
		}
		if err := chat.RetryFailedMessage(ctx, id); err != nil {
			errorColor.Printf("retry failed: %v\n", err)
		}
		fmt.Println()
	case "/load":
		if arg == "" {
			infoColor.Println("usage: /load <conversation-id>")
			return true
		}
		if err := chat.LoadConversation(ctx, arg); err != nil {
			errorColor.Printf("load failed: %v\n", err)
			return true
		}
		for _, m := range chat.Messages() {
			switch m.Role {
			case domain.RoleUser:
				promptColor.Print("you> ")
				fmt.Println(m.Content)
			case domain.RoleAssistant:
				assistantColor.Print("assistant> ")
				fmt.Println(m.Content)
			}
		}
	case "/delete":
		if arg == "" {
			infoColor.Println("usage: /delete <conversation-id>")
			return true
		}
		if err := chat.DeleteConversation(ctx, arg); err != nil {
			errorColor.Printf("delete failed: %v\n", err)
			return true
		}
		infoColor.Println("conversation deleted")
	case "/model":
		if arg == "" {
			infoColor.Printf("current model: %s\n", chat.SelectedModel())
			return true
		}
		if err := chat.SetModel(arg); err != nil {
			errorColor.Printf("unknown model: %s\n", arg)
			return true
		}
		infoColor.Printf("model set to %s\n", arg)
	default:
		infoColor.Printf("unknown command: %s\n", cmd)
	}
	return true
}

func lastFailedMessageID(chat *service.ChatService) string {
	msgs := chat.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Error {
			return msgs[i].ID
		}
	}
	return ""
}
