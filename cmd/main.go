package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"document-chat/internal/config"
	"document-chat/internal/embedding"
	"document-chat/internal/helper"
	"document-chat/internal/llmservice"
	"document-chat/internal/models"
	"document-chat/internal/parser"
	"document-chat/internal/rag"
	"document-chat/internal/session"
)

const (
	configFilePath = "./configs/config.yaml"
	prompt         = "> "
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()

	cfgPath := flag.String("config", configFilePath, "Path to the YAML config file")
	question := flag.String("question", "", "Answer a single question and exit")
	dryRun := flag.Bool("dry-run", false, "Print the document chunks and exit")
	verbose := flag.Bool("v", false, "Debug logging")
	flag.Parse()

	// .env is optional, like the keys it may hold
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("Error loading .env")
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}
	setLogLevel(cfg.Log.Level, *verbose)
	log.Debug().Interface("config", cfg).Msg("Loaded config")

	ctx := context.Background()

	if *dryRun {
		if err := printChunks(cfg, flag.Args()); err != nil {
			log.Fatal().Err(err).Msg("Error chunking documents")
		}
		return
	}

	engine, err := newEngine(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing engine")
	}
	state, err := session.New()
	if err != nil {
		log.Fatal().Err(err).Msg("Error creating session")
	}
	log.Info().Str("session", state.ID).Msg("Session started")

	if len(flag.Args()) > 0 {
		if err := process(ctx, engine, state, flag.Args()); err != nil {
			log.Fatal().Err(err).Msg("Error processing documents")
		}
	}

	if *question != "" {
		if err := ask(ctx, engine, state, *question); err != nil {
			os.Exit(1)
		}
		return
	}

	repl(ctx, engine, state)
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Warn().Str("path", path).Msg("Config file not found, using defaults")
		return config.Default(), nil
	}
	return cfg, err
}

func setLogLevel(level string, verbose bool) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	if verbose {
		lvl = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

func newEngine(cfg *config.Config) (*rag.Engine, error) {
	embedder, err := embedding.NewEmbedder(&cfg.EmbedLLM, cfg.Retry)
	if err != nil {
		return nil, err
	}
	llm, err := llmservice.NewModel(&cfg.InferenceLLM)
	if err != nil {
		return nil, err
	}

	opts := []rag.Option{}
	if term.IsTerminal(int(os.Stderr.Fd())) {
		opts = append(opts, rag.WithProgress(newProgress()))
	}
	if cfg.Log.PromptTokens {
		if tc, err := llmservice.NewTokenCounter(); err != nil {
			log.Warn().Err(err).Msg("Prompt token counting disabled")
		} else {
			opts = append(opts, rag.WithTokenCounter(tc))
		}
	}
	return rag.NewEngine(cfg, embedder, llm, opts...)
}

// newProgress returns a callback drawing one bar per processing run
func newProgress() func(done, total int) {
	var bar *progressbar.ProgressBar
	return func(done, total int) {
		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionSetDescription("embedding"),
				progressbar.OptionSetWidth(32),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)
		}
		_ = bar.Set(done)
		if done >= total {
			_ = bar.Finish()
			bar = nil
		}
	}
}

// expandGlobs resolves doublestar patterns, keeping the order patterns were given in
func expandGlobs(patterns []string) ([]string, error) {
	var paths []string
	for _, p := range patterns {
		matches, err := doublestar.FilepathGlob(p)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", p, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("no documents match %q", p)
		}
		paths = append(paths, matches...)
	}
	return paths, nil
}

func loadDocuments(patterns []string) ([]models.Document, error) {
	paths, err := expandGlobs(patterns)
	if err != nil {
		return nil, err
	}
	return parser.ReadDocuments(paths)
}

func process(ctx context.Context, engine *rag.Engine, state *session.State, patterns []string) error {
	docs, err := loadDocuments(patterns)
	if err != nil {
		return err
	}
	n, err := engine.ProcessDocuments(ctx, state, docs)
	if err != nil {
		return err
	}
	log.Info().Int("documents", len(docs)).Int("chunks", n).Msg("Documents ready")
	return nil
}

func printChunks(cfg *config.Config, patterns []string) error {
	docs, err := loadDocuments(patterns)
	if err != nil {
		return err
	}
	rawText, err := parser.ExtractText(docs)
	if err != nil {
		return err
	}
	chunks, err := parser.SplitText(rawText, parser.SplitOptions{
		Size:      cfg.RAG.ChunkSize,
		Overlap:   cfg.RAG.ChunkOverlap,
		Separator: cfg.RAG.Separator,
	})
	if err != nil {
		return err
	}
	helper.PrettyPrint(chunks)
	return nil
}

func ask(ctx context.Context, engine *rag.Engine, state *session.State, question string) error {
	responses, err := engine.Ask(ctx, state, question)
	printMessages(rag.Render(responses))
	if err != nil {
		if errors.Is(err, models.ErrRetrieval) && state.Index() == nil {
			log.Error().Msg("Process some documents first")
		} else {
			log.Error().Err(err).Bool("user_error", rag.IsUserError(err)).Msg("Error answering question")
		}
		return err
	}
	for _, r := range responses {
		for _, src := range r.Sources {
			log.Debug().Int("position", src.Position).Float32("score", src.Score).Msg("Source")
		}
	}
	return nil
}

func printMessages(msgs []models.Message) {
	for _, m := range msgs {
		label := "User"
		if m.Role == models.RoleAssistant {
			label = "Assistant"
		}
		fmt.Printf("%s: %s\n\n", label, m.Text)
	}
}

func repl(ctx context.Context, engine *rag.Engine, state *session.State) {
	fmt.Println("Ask a question about the documents. Commands: :process <glob>..., :history, :reset, :quit")
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Print(prompt)
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		switch fields[0] {
		case ":quit", ":q":
			return
		case ":process":
			if len(fields) < 2 {
				fmt.Println("usage: :process <glob>...")
				continue
			}
			if err := process(ctx, engine, state, fields[1:]); err != nil {
				log.Error().Err(err).Msg("Error processing documents")
			}
		case ":history":
			history, err := state.History(ctx)
			if err != nil {
				log.Error().Err(err).Msg("Error reading history")
				continue
			}
			printMessages(rag.Render([]models.Response{{ChatHistory: history}}))
		case ":reset":
			if err := state.Reset(ctx); err != nil {
				log.Error().Err(err).Msg("Error clearing history")
			}
		default:
			_ = ask(ctx, engine, state, line)
		}
	}
	if err := scanner.Err(); err != nil {
		log.Error().Err(err).Msg("Error reading input")
	}
}
