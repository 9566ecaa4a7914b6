package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/schollz/progressbar/v3"

	"github.com/healai/heal/internal/types"
	cfgPkg "github.com/healai/heal/pkg/config"
	"github.com/healai/heal/pkg/ingest"
	"github.com/healai/heal/pkg/llm"
	"github.com/healai/heal/pkg/memory"
	"github.com/healai/heal/pkg/patients"
	"github.com/healai/heal/pkg/processor"
	"github.com/healai/heal/pkg/rag"
	"github.com/healai/heal/pkg/store"
	"github.com/healai/heal/server"
)

func main() {
	// .env is optional; environment variables win either way.
	godotenv.Load()

	var configPath string
	var buildIndex bool
	var corpusRoot string

	flag.StringVar(&configPath, "config", "", "Path to config file")
	flag.BoolVar(&buildIndex, "build", false, "Build the knowledge index from the corpus and exit")
	flag.StringVar(&corpusRoot, "corpus", "", "Corpus directory (overrides config)")
	flag.Parse()

	config, err := cfgPkg.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if corpusRoot != "" {
		config.Corpus.Root = corpusRoot
	}

	// Bad configuration is fatal; the process must not serve traffic on it.
	if errs := config.Validate(); len(errs) > 0 {
		for _, e := range errs {
			color.Red("config error: %v", e)
		}
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if buildIndex {
		if err := runBuild(ctx, config); err != nil {
			log.Fatal(err)
		}
		return
	}

	if err := runServe(ctx, config); err != nil {
		log.Fatal(err)
	}
}

func newEmbedder(config *cfgPkg.Config) (*llm.Embedder, error) {
	return llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		Model:     config.LLM.EmbedModel,
		BaseURL:   config.LLM.BaseURL,
		VectorDim: config.Index.VectorDim,
		RateLimit: config.Corpus.RateLimit,
	})
}

func runBuild(ctx context.Context, config *cfgPkg.Config) error {
	embedder, err := newEmbedder(config)
	if err != nil {
		return fmt.Errorf("failed to initialize embedder: %v", err)
	}

	proc := processor.NewWithConfig(processor.ProcessorConfig{
		ChunkSize:    config.Processor.ChunkSize,
		ChunkOverlap: config.Processor.ChunkOverlap,
	})

	color.Blue("\nBuilding knowledge index from %s\n", config.Corpus.Root)

	loadingBar := getSpinner(" Loading corpus documents...")
	embeddingBar := getProgressBar(-1, " Embedding chunks...")

	builder, err := ingest.NewBuilder(ingest.BuilderConfig{
		CorpusRoot: config.Corpus.Root,
		Extensions: config.Corpus.Extensions,
		BatchSize:  config.Index.BatchSize,
		OnDocument: func(path string) {
			loadingBar.Add(1)
		},
		OnEmbedded: func(done, total int) {
			embeddingBar.ChangeMax(total)
			embeddingBar.Set(done)
		},
	}, proc, embedder)
	if err != nil {
		return err
	}

	switch config.Index.Backend {
	case "pgvector":
		index, err := store.NewPGIndex(ctx, store.PGIndexConfig{
			ConnString: config.Index.URL,
			TableName:  config.Index.TableName,
			VectorDim:  config.Index.VectorDim,
			BatchSize:  config.Index.BatchSize,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize pgvector index: %v", err)
		}
		defer index.Close()

		if err := builder.BuildPG(ctx, index); err != nil {
			return err
		}
		embeddingBar.Finish()
		color.Green("\n✓ Indexed %d chunks into %s\n", index.Len(), config.Index.TableName)

	default:
		index, err := builder.BuildFlat(ctx, config.Index.Path)
		if err != nil {
			return err
		}
		embeddingBar.Finish()
		color.Green("\n✓ Indexed %d chunks, saved to %s\n", index.Len(), config.Index.Path)
	}

	return nil
}

func runServe(ctx context.Context, config *cfgPkg.Config) error {
	embedder, err := newEmbedder(config)
	if err != nil {
		return fmt.Errorf("failed to initialize embedder: %v", err)
	}

	var index types.SimilarityIndex
	switch config.Index.Backend {
	case "pgvector":
		index, err = store.NewPGIndex(ctx, store.PGIndexConfig{
			ConnString: config.Index.URL,
			TableName:  config.Index.TableName,
			VectorDim:  config.Index.VectorDim,
			BatchSize:  config.Index.BatchSize,
		})
	default:
		// A missing or mismatched artifact is fatal here: serving without
		// the knowledge index would silently answer from nothing.
		index, err = store.LoadFlat(config.Index.Path, config.Index.VectorDim)
	}
	if err != nil {
		return fmt.Errorf("failed to load similarity index: %w", err)
	}
	defer index.Close()

	chatEngine, err := llm.NewWithConfig(llm.ChatConfig{
		Model:       config.LLM.Model,
		MaxTokens:   config.LLM.MaxTokens,
		Temperature: config.LLM.Temperature,
		BaseURL:     config.LLM.BaseURL,
		Timeout:     time.Duration(config.LLM.TimeoutSecs) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize chat engine: %v", err)
	}

	patientStore, err := patients.NewStore(config.Patients.Dir)
	if err != nil {
		return fmt.Errorf("failed to initialize patient store: %v", err)
	}

	engine := rag.NewEngine(embedder, index, chatEngine, rag.EngineConfig{
		TopK: config.Index.TopK,
	})

	color.Cyan("Serving %d indexed chunks on port %s", index.Len(), config.Server.Port)

	srv := server.New(server.Config{Port: config.Server.Port},
		engine, patientStore, memory.NewStore())
	return srv.Start(ctx)
}

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("chunks"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}
