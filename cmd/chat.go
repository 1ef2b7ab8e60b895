package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/remedylabs/remedy/internal/bot"
	"github.com/remedylabs/remedy/internal/compose"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive assistant session",
	Long: `Chat starts an interactive REPL against the knowledge base. It drives
the same conversation layer a chat front end would: the ask action arms
the next message as a question, confirm ends the current question, and
refine merges a follow-up query's results with the accumulated context.

Commands inside the session:
  /ask      ask a new question (or arm the first one)
  /refine   refine the current question
  /done     confirm the answer was received
  /help     show help
  /quit     exit

Required environment variables:
  OPENAI_API_KEY - OpenAI API key for embeddings and answer generation`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	botStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#E9E9F4"))
	actionStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#6272A4")).Italic(true)
	promptStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#50FA7B")).Bold(true)

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	sessions, err := openSessionStore(a.cfg)
	if err != nil {
		return err
	}
	defer sessions.Close()

	composer, err := compose.NewOpenAIComposer(compose.Config{
		Model:       a.cfg.Composer.Model,
		Temperature: a.cfg.Composer.Temperature,
		MaxTokens:   a.cfg.Composer.MaxTokens,
		Timeout:     time.Duration(a.cfg.Composer.TimeoutSecs) * time.Second,
	})
	if err != nil {
		return err
	}

	handler, err := bot.NewHandler(a.engine, composer, sessions, a.logger, a.cfg.Search.TopK)
	if err != nil {
		return err
	}

	// The REPL is a stand-in chat front end with a single local user.
	const userID = "local"

	printReply := func(r bot.Reply) {
		for _, part := range bot.SplitMessage(r.Text, 4096) {
			fmt.Println(botStyle.Render(part))
		}
		if len(r.Actions) > 0 {
			names := make([]string, len(r.Actions))
			for i, action := range r.Actions {
				names[i] = "/" + actionName(action)
			}
			fmt.Println(actionStyle.Render("actions: " + strings.Join(names, " ")))
		}
	}

	printReply(handler.Start(ctx, userID))

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 64*1024)

	for {
		fmt.Print(promptStyle.Render("> "))
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch line {
		case "/quit", "/exit":
			return nil
		case "/help":
			fmt.Println(botStyle.Render(bot.Help()))
		case "/ask":
			printReply(handler.HandleAction(ctx, userID, bot.ActionAsk))
		case "/refine":
			printReply(handler.HandleAction(ctx, userID, bot.ActionRefine))
		case "/done":
			printReply(handler.HandleAction(ctx, userID, bot.ActionConfirm))
		default:
			fmt.Println(actionStyle.Render(bot.Working()))
			printReply(handler.HandleMessage(ctx, userID, line))
		}
	}
}

func actionName(a bot.Action) string {
	switch a {
	case bot.ActionConfirm:
		return "done"
	case bot.ActionRefine:
		return "refine"
	default:
		return "ask"
	}
}
