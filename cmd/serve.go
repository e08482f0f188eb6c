package cmd

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/usagi-dev/usagi/core/actor"
	"github.com/usagi-dev/usagi/core/aggregate"
	"github.com/usagi-dev/usagi/core/analysis"
	"github.com/usagi-dev/usagi/core/blob"
	"github.com/usagi-dev/usagi/core/config"
	"github.com/usagi-dev/usagi/core/conversation"
	"github.com/usagi-dev/usagi/core/database"
	"github.com/usagi-dev/usagi/core/queue"
	"github.com/usagi-dev/usagi/core/reply"
	"github.com/usagi-dev/usagi/core/speech"
	"github.com/usagi-dev/usagi/core/storage"
	"github.com/usagi-dev/usagi/core/store"
	"github.com/usagi-dev/usagi/core/tokenize"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the companion backend with an interactive console",
	Long: `Start the full pipeline (actors, analysis queue, aggregator) and read
child utterances from stdin. Each line is handled as one conversational turn.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// app holds the wired components shared by the serve and summary commands.
type app struct {
	dirs    *storage.Dirs
	manager *config.Manager
	pool    *database.Pool
	store   *store.Store
	blobs   blob.Store
	logger  *slog.Logger
}

func buildApp(ctx context.Context, logger *slog.Logger) (*app, error) {
	dirs, err := storage.ResolveDirs()
	if err != nil {
		return nil, fmt.Errorf("resolve directories: %w", err)
	}

	manager := config.NewManager(dirs)
	if err := manager.Load(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg := manager.Get()

	dbPath := cfg.Database.Path
	if dbPath == "" {
		dbPath = dirs.DataDir("usagi.db")
	}
	if err := storage.EnsureDir(dirs.DataDir(), 0755); err != nil {
		return nil, err
	}
	pool, err := database.Open(dbPath, database.DefaultPoolConfig())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := database.NewMigrator(pool, database.Migrations()).Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	blobDir := cfg.Blob.Dir
	if blobDir == "" {
		blobDir = dirs.DataDir("blobs")
	}
	blobs, err := blob.NewFSStore(blobDir)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("open blob store: %w", err)
	}

	return &app{
		dirs:    dirs,
		manager: manager,
		pool:    pool,
		store:   store.New(pool),
		blobs:   blobs,
		logger:  logger,
	}, nil
}

func (a *app) close() {
	a.manager.Close()
	a.pool.Close()
}

func newGenerator(cfg *config.Config) reply.Generator {
	if cfg.LLM.Provider == "anthropic" {
		return reply.NewAnthropicGenerator(reply.AnthropicConfig{
			APIKey: os.Getenv("ANTHROPIC_API_KEY"),
			Model:  cfg.LLM.Model,
		})
	}
	return reply.Mock{}
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := setupLogger()
	ctx := cmd.Context()

	a, err := buildApp(ctx, logger)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.manager.Watch(); err != nil {
		logger.Warn("config watch unavailable", "error", err)
	}
	cfg := a.manager.Get()

	tokenizer := &tokenize.Loose{
		MaxTokenLength: cfg.Analysis.MaxTokenLength,
		MaxTokens:      cfg.Analysis.MaxTokens,
	}
	tts := &speech.MockTTS{Blobs: a.blobs}
	stt := &speech.MockSTT{}

	registry, err := actor.NewRegistry(actor.Config{
		ContextWindow: cfg.Actor.ContextWindow,
		IdleTimeout:   cfg.Actor.IdleTimeout,
		MaxResident:   cfg.Actor.MaxResident,
		SweepInterval: cfg.Actor.SweepInterval,
	}, actor.Deps{
		Replies:    newGenerator(cfg),
		Tokenizer:  tokenizer,
		TTS:        tts,
		Rehydrator: conversation.NewStoreRehydrator(a.store, cfg.Actor.ContextWindow),
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	defer registry.Close()

	dlq, err := queue.NewDeadLetterStore(a.dirs.StateDir("dead_letters.db"))
	if err != nil {
		return err
	}
	defer dlq.Close()

	statusCache, err := queue.NewStatusCache(0)
	if err != nil {
		return err
	}
	defer statusCache.Close()

	worker := analysis.NewWorker(a.store, tokenizer, analysis.Config{
		ExcerptLength: cfg.Analysis.ExcerptLength,
	}, logger)

	q, err := queue.New(queue.Config{
		Name:           "analysis",
		Workers:        cfg.Queue.Workers,
		MaxPerSession:  cfg.Queue.MaxPerSession,
		MaxAttempts:    cfg.Queue.MaxAttempts,
		InitialBackoff: cfg.Queue.InitialBackoff,
		MaxBackoff:     cfg.Queue.MaxBackoff,
	}, worker.Handle,
		queue.WithDeadLetters[analysis.Request](dlq),
		queue.WithStatusCache[analysis.Request](statusCache),
		queue.WithLogger[analysis.Request](logger),
	)
	if err != nil {
		return err
	}
	q.Start()
	defer q.Close()

	// The queue is volatile; the sweep re-enqueues turns whose analysis was
	// lost to a crash or shutdown, starting with one pass right now.
	sweeper := analysis.NewSweeper(a.store, q, analysis.SweepConfig{
		Interval: cfg.Analysis.SweepInterval,
	}, logger)
	sweeper.Start()
	defer sweeper.Stop()

	aggregator := aggregate.New(a.store, aggregate.Config{
		Period: cfg.Aggregate.Period,
		Window: cfg.Aggregate.Window,
	}, logger)
	aggregator.Start()
	defer aggregator.Stop()

	coord := conversation.New(a.store, registry, stt, a.blobs, q, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	sessionID := uuid.New().String()
	init, err := coord.StartSession(ctx, sessionID, "console")
	if err != nil {
		return err
	}
	fmt.Printf("🐰 %s\n", init.Greeting)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		fmt.Print("> ")
		select {
		case <-sigCh:
			fmt.Println()
			logger.Info("shutting down")
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			input := strings.TrimSpace(line)
			if input == "" {
				continue
			}
			if input == "exit" || input == "quit" {
				return nil
			}

			res, err := coord.HandleText(ctx, sessionID, input)
			if err != nil {
				logger.Error("turn failed", "error", err)
				continue
			}
			fmt.Printf("🐰 %s\n", res.Reply)
		}
	}
}
