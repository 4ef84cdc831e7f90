package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"repomind/internal/analyzer"
	"repomind/internal/llm"
	"repomind/internal/rag"
	"repomind/internal/session"
	"repomind/internal/walker"
)

var chatCmd = &cobra.Command{
	Use:   "chat [repo-url]",
	Short: "Ask questions about an analyzed repository",
	Long: `Chat opens a question-answer loop over the analyzed repository. Without a
URL the repository from the last analysis is used; a URL for a different
repository (or branch) is analyzed first.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runChat,
}

func init() {
	chatCmd.Flags().Int("top-k", 0, "retrieved chunks per question")
	viper.BindPFlag("top_k", chatCmd.Flags().Lookup("top-k"))
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a := analyzer.New(cfg, logger)
	defer a.Close()

	sessions, err := session.NewStore(cfg.DataDir, logger)
	if err != nil {
		return err
	}
	settings, err := sessions.Settings()
	if err != nil {
		return err
	}

	var rawURL string
	if len(args) > 0 {
		rawURL = args[0]
	}
	facts, err := chatFacts(ctx, a, rawURL)
	if err != nil {
		return err
	}
	if settings.LastRepo != facts.Name {
		settings.LastRepo = facts.Name
		if err := sessions.SaveSettings(settings); err != nil {
			logger.Warn("saving settings failed", zap.Error(err))
		}
	}

	chat, modelName, err := llm.ForModel(cfg.ChatModel, cfg.AnthropicAPIKey, cfg.OllamaURL, cfg.MaxTokens, logger)
	if err != nil {
		return err
	}

	var searcher rag.Searcher
	if st := a.Store(); st != nil {
		searcher = st
	}
	var related rag.ContextProvider
	if cs := a.Contexts(); cs != nil {
		related = cs
	}
	assembler := rag.NewAssembler(searcher, a.Embedder(), related, rag.AssemblerOptions{
		TopK:         cfg.TopK,
		Threshold:    cfg.ScoreThreshold,
		Instructions: settings.CustomInstructions,
	}, logger)

	tracker, err := session.NewUsageTracker(filepath.Join(cfg.DataDir, "usage"), logger)
	if err != nil {
		logger.Warn("usage tracking unavailable", zap.Error(err))
		tracker = nil
	}

	renderer, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
	if err != nil {
		renderer = nil
	}

	record := &session.Chat{RepoURL: facts.Name}
	var history []llm.Message
	scanner := bufio.NewScanner(os.Stdin)

	fmt.Printf("\nChatting about %s with %s (type /help for commands)\n\n", facts.Name, modelName)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		question := strings.TrimSpace(scanner.Text())
		if question == "" {
			continue
		}

		switch question {
		case "/exit", "/quit":
			fmt.Println("Goodbye.")
			return nil
		case "/clear":
			history = nil
			fmt.Println("Conversation cleared.")
			continue
		case "/help":
			fmt.Println("Commands:")
			fmt.Println("  /clear  - clear conversation history")
			fmt.Println("  /usage  - show recorded token usage and cost")
			fmt.Println("  /exit   - quit chat")
			fmt.Println("  /help   - show this help")
			continue
		case "/usage":
			printUsage(tracker)
			continue
		}

		fmt.Println("[Searching...]")

		system, msgs, err := assembler.BuildContext(ctx, question, facts, history)
		if err != nil {
			fmt.Fprintf(os.Stderr, "context error: %v\n", err)
			continue
		}
		answer, err := chat.Complete(ctx, system, msgs)
		if err != nil {
			fmt.Fprintf(os.Stderr, "generation error: %v\n", err)
			continue
		}

		fmt.Println()
		fmt.Println(renderAnswer(renderer, answer))
		fmt.Println()

		history = append(history, llm.Message{Role: llm.RoleUser, Content: question})
		history = append(history, llm.Message{Role: llm.RoleAssistant, Content: answer})
		if len(history) > 20 {
			history = history[len(history)-20:]
		}

		record.Messages = history
		if record.Title == "" {
			record.Title = chatTitle(question)
		}
		if err := sessions.SaveChat(record); err != nil {
			logger.Warn("saving chat failed", zap.Error(err))
		}
		if tracker != nil {
			input := system + "\n" + messageText(msgs)
			if _, err := tracker.Track(modelName, input, answer, record.ID); err != nil {
				logger.Warn("usage tracking failed", zap.Error(err))
			}
		}
	}

	return scanner.Err()
}

// chatFacts resolves the repository for the session. Stored facts from the
// last analysis are reused when they match; anything else runs a fresh
// analysis first.
func chatFacts(ctx context.Context, a *analyzer.Analyzer, rawURL string) (*rag.RepoFacts, error) {
	stored, err := a.StoredFacts(ctx)
	if err != nil {
		return nil, err
	}
	if rawURL == "" {
		if stored == nil {
			return nil, fmt.Errorf("no repository analyzed yet\nRun 'repomind analyze <repo-url>' first, or pass a URL to chat")
		}
		return stored, nil
	}
	if stored != nil {
		ref, err := walker.ParseRepoURL(rawURL)
		if err == nil && ref.String() == stored.Name &&
			(ref.Branch == "" || ref.Branch == stored.Branch) &&
			ref.Subpath == stored.Path {
			return stored, nil
		}
	}

	fmt.Printf("Analyzing %s...\n", rawURL)
	var lastStage string
	res, err := a.Analyze(ctx, rawURL, analyzer.Options{
		Progress: func(stage string, done, total int) {
			if stage != lastStage {
				lastStage = stage
				fmt.Printf("  %s\n", stage)
			}
		},
	})
	if err != nil {
		return nil, err
	}
	return res.Facts(), nil
}

func chatTitle(question string) string {
	r := []rune(question)
	if len(r) > 60 {
		return string(r[:60])
	}
	return question
}

func renderAnswer(r *glamour.TermRenderer, answer string) string {
	if r == nil {
		return answer
	}
	out, err := r.Render(answer)
	if err != nil {
		return answer
	}
	return strings.TrimRight(out, "\n")
}

func messageText(msgs []llm.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}

func printUsage(tracker *session.UsageTracker) {
	if tracker == nil {
		fmt.Println("Usage tracking is unavailable.")
		return
	}
	sum, err := tracker.Summary()
	if err != nil {
		fmt.Fprintf(os.Stderr, "usage: %v\n", err)
		return
	}
	if len(sum.ByModel) == 0 {
		fmt.Println("No usage recorded yet.")
		return
	}
	models := make([]string, 0, len(sum.ByModel))
	for m := range sum.ByModel {
		models = append(models, m)
	}
	sort.Strings(models)
	fmt.Println("Recorded usage:")
	for _, m := range models {
		u := sum.ByModel[m]
		fmt.Printf("  %-32s %8d in / %8d out   $%.4f\n", m, u.InputTokens, u.OutputTokens, u.Cost)
	}
	if month, err := tracker.MonthSummary(time.Now()); err == nil {
		fmt.Printf("  this month: $%.4f\n", month.Cost)
	}
	fmt.Printf("  total: $%.4f\n", sum.Cost)
}
