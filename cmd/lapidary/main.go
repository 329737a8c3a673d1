package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lapidary-search/lapidary/internal/config"
	"github.com/lapidary-search/lapidary/internal/db"
	dbLocal "github.com/lapidary-search/lapidary/internal/db/local"
	dbRedis "github.com/lapidary-search/lapidary/internal/db/redis"
	"github.com/lapidary-search/lapidary/internal/domain"
	"github.com/lapidary-search/lapidary/internal/imaging"
	logpkg "github.com/lapidary-search/lapidary/internal/logger"
	"github.com/lapidary-search/lapidary/internal/metrics"
	"github.com/lapidary-search/lapidary/internal/repository/artifacts"
	"github.com/lapidary-search/lapidary/internal/repository/catalog"
	"github.com/lapidary-search/lapidary/internal/repository/embcache"
	"github.com/lapidary-search/lapidary/internal/repository/results"
	chiTransport "github.com/lapidary-search/lapidary/internal/transport/chi"
	geminiTransport "github.com/lapidary-search/lapidary/internal/transport/gemini"
	onnxEmb "github.com/lapidary-search/lapidary/internal/transport/onnx"
	openaiEmb "github.com/lapidary-search/lapidary/internal/transport/openai"
	"github.com/lapidary-search/lapidary/internal/transport/sarvam"
	"github.com/lapidary-search/lapidary/internal/transport/tei"
	"github.com/lapidary-search/lapidary/internal/usecase/fusion"
	healthuc "github.com/lapidary-search/lapidary/internal/usecase/health"
	"github.com/lapidary-search/lapidary/internal/usecase/language"
	"github.com/lapidary-search/lapidary/internal/usecase/rerank"
	searchuc "github.com/lapidary-search/lapidary/internal/usecase/search"
	"github.com/lapidary-search/lapidary/internal/version"
)

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:     "lapidary",
		Short:   "Multimodal jewelry catalog search engine",
		Version: fmt.Sprintf("%s (%s)", version.Version, version.Commit),
	}
	root.AddCommand(serveCmd(), searchCmd(), indexCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// app is the composed service graph shared by all commands.
type app struct {
	cfg    config.Config
	logger *zap.Logger
	store  db.Store
	embed  domain.Embedder
	search *searchuc.Service
	health *healthuc.Service
	result results.Store

	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.store.Close()
	_ = a.logger.Sync()
}

func buildApp(ctx context.Context) (*app, error) {
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := logpkg.New(env, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	logger.Info("Starting lapidary",
		zap.String("version", version.Version),
		zap.String("env", env),
		zap.String("db_driver", cfg.Database.Driver),
		zap.String("embedding_driver", cfg.Embedding.Driver),
		zap.String("collection", cfg.Search.Collection),
	)

	a := &app{cfg: cfg, logger: logger}

	a.store, err = buildStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("create store: %w", err)
	}
	if err := a.store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		a.store.Close()
		return nil, fmt.Errorf("database not ready: %w", err)
	}

	metrics.RegisterSearchMetrics()

	embedder, embChecker, closeEmb, err := buildEmbedder(cfg, a.store, logger)
	if err != nil {
		a.store.Close()
		return nil, err
	}
	if closeEmb != nil {
		a.closers = append(a.closers, closeEmb)
	}
	a.embed = embedder

	// External services are all optional; every nil degrades gracefully.
	var translator language.Translator
	var transcriber searchuc.Transcriber
	if cfg.Speech.APIKey != "" {
		client := sarvam.New(&sarvam.Config{
			APIKey:  cfg.Speech.APIKey,
			BaseURL: cfg.Speech.BaseURL,
			Timeout: time.Duration(cfg.Speech.TimeoutSec) * time.Second,
			Logger:  logger,
		})
		translator = client
		transcriber = client
	}

	var descriptor searchuc.Descriptor
	if cfg.Descriptor.APIKey != "" {
		d, err := geminiTransport.New(ctx, &geminiTransport.Config{
			APIKey:  cfg.Descriptor.APIKey,
			Model:   cfg.Descriptor.Model,
			Timeout: time.Duration(cfg.Descriptor.TimeoutSec) * time.Second,
			Logger:  logger,
		})
		if err != nil {
			a.store.Close()
			return nil, fmt.Errorf("create descriptor: %w", err)
		}
		descriptor = d
		a.closers = append(a.closers, func() { _ = d.Close() })
	}

	var encoder rerank.CrossEncoder
	if cfg.Rerank.BaseURL != "" {
		encoder = tei.New(&tei.Config{
			BaseURL: cfg.Rerank.BaseURL,
			Timeout: time.Duration(cfg.Rerank.TimeoutSec) * time.Second,
			Logger:  logger,
		})
	}

	vocab := domain.DefaultVocabulary()
	router := language.NewRouter(vocab, cfg.Language.Working, translator, logger)
	fuser := fusion.New(fusion.Weights{
		Image:       cfg.Search.Weights.Image,
		Description: cfg.Search.Weights.Description,
		Text:        cfg.Search.Weights.Text,
	}, vocab, logger)

	catalogRepo := catalog.New(a.store, cfg.Search.Collection, logger)
	a.result = results.NewFileStore(cfg.Output.Dir)
	packager := artifacts.New(cfg.Output.Dir, cfg.Output.CopyWorkers, a.result, logger)
	reranker := rerank.New(encoder, cfg.Rerank.BatchSize, logger)

	a.search = searchuc.New(
		router, transcriber, descriptor, embedder, fuser,
		catalogRepo, reranker, packager,
		searchuc.Options{FanOut: cfg.Search.FanOut, TopK: cfg.Search.TopK},
		logger,
	)

	a.health = healthuc.New(a.store, embChecker, catalogRepo)

	return a, nil
}

func buildStore(cfg config.Config) (db.Store, error) {
	switch cfg.Database.Driver {
	case "redis":
		return dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Database.Addrs,
			Password: cfg.Database.Password,
		})
	case "local":
		return dbLocal.Open(cfg.Database.Path)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}

// buildEmbedder assembles the embedder chain: provider -> cache decorator.
// The health checker is the bare provider; cache hits must not mask a dead
// backend.
func buildEmbedder(cfg config.Config, store db.Store, logger *zap.Logger) (domain.Embedder, domain.HealthChecker, func(), error) {
	switch cfg.Embedding.Driver {
	case "onnx":
		e, err := onnxEmb.NewEmbedder(&onnxEmb.Config{
			ModelDir:   cfg.Embedding.ONNX.ModelDir,
			AdapterDir: cfg.Embedding.ONNX.AdapterDir,
			OrtLibrary: cfg.Embedding.ONNX.OrtLibrary,
			MaxSeqLen:  cfg.Embedding.ONNX.MaxSeqLen,
			ImageSize:  cfg.Embedding.ONNX.ImageSize,
			Logger:     logger,
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("create onnx embedder: %w", err)
		}
		return embcache.New(e, store, logger), e, e.Close, nil
	case "openai":
		e := openaiEmb.NewEmbedder(&openaiEmb.Config{
			APIKey:     cfg.Embedding.OpenAI.APIKey,
			BaseURL:    cfg.Embedding.OpenAI.BaseURL,
			Model:      cfg.Embedding.OpenAI.Model,
			Dimensions: cfg.Embedding.OpenAI.Dimensions,
			Logger:     logger,
		})
		return embcache.New(e, store, logger), e, nil, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown embedding driver %q", cfg.Embedding.Driver)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			server := chiTransport.NewServer(a.search, a.result, a.health, a.cfg.Auth.APIKeys, a.logger)

			addr := fmt.Sprintf(":%d", a.cfg.HTTP.Port)
			srv := &http.Server{
				Addr:         addr,
				Handler:      server.Router(),
				ReadTimeout:  time.Duration(a.cfg.HTTP.ReadTimeoutSec) * time.Second,
				WriteTimeout: time.Duration(a.cfg.HTTP.WriteTimeoutSec) * time.Second,
			}

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

			go func() {
				a.logger.Info("Starting HTTP server", zap.String("addr", addr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					a.logger.Fatal("HTTP server error", zap.Error(err))
				}
			}()

			<-quit
			a.logger.Info("Received shutdown signal")

			shutdownCtx, cancel := context.WithTimeout(context.Background(),
				time.Duration(a.cfg.HTTP.ShutdownSec)*time.Second)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Error("Error during shutdown", zap.Error(err))
			}
			a.logger.Info("Server stopped gracefully")
			return nil
		},
	}
}

func searchCmd() *cobra.Command {
	var (
		text      string
		imagePath string
		audioPath string
		audioMIME string
	)

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Run a one-shot search from the command line",
		RunE: func(cmd *cobra.Command, _ []string) error {
			query, err := queryFromFlags(text, imagePath, audioPath, audioMIME)
			if err != nil {
				return err
			}

			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.search.Search(cmd.Context(), query)
			if err != nil {
				return err
			}

			if res.Conflicted {
				fmt.Println("note: AI description conflicted with your query and was ignored")
			}
			fmt.Printf("results for %q (%d reranked):\n", res.Label, len(res.Reranked))
			for _, r := range res.Reranked {
				fmt.Printf("  %2d. %-24s %8.4f  %s\n", r.Rank, r.ProductID, r.RerankScore, r.Path)
			}
			if res.ArtifactDir != "" {
				fmt.Printf("artifacts written to %s\n", res.ArtifactDir)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&text, "query", "", "query text")
	cmd.Flags().StringVar(&imagePath, "image", "", "path to a query image")
	cmd.Flags().StringVar(&audioPath, "audio", "", "path to a spoken query clip")
	cmd.Flags().StringVar(&audioMIME, "audio-mime", "audio/wav", "MIME type of the audio clip")
	return cmd
}

func queryFromFlags(text, imagePath, audioPath, audioMIME string) (domain.Query, error) {
	if audioPath != "" {
		audio, err := os.ReadFile(audioPath)
		if err != nil {
			return nil, fmt.Errorf("read audio: %w", err)
		}
		return domain.AudioQuery{Audio: audio, MIME: audioMIME}, nil
	}

	if imagePath != "" {
		data, err := os.ReadFile(imagePath)
		if err != nil {
			return nil, fmt.Errorf("read image: %w", err)
		}
		img, err := imaging.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("decode image: %w", err)
		}
		name := filepath.Base(imagePath)
		if text != "" {
			return domain.ImageTextQuery{Image: img, Name: name, Text: text}, nil
		}
		return domain.ImageQuery{Image: img, Name: name}, nil
	}

	if text != "" {
		return domain.TextQuery{Text: text}, nil
	}
	return nil, fmt.Errorf("provide --query, --image, or --audio")
}

// catalogItem is one row of the index manifest.
type catalogItem struct {
	ProductID           string `json:"product_id"`
	Path                string `json:"path"`
	SemanticDescription string `json:"semantic_description"`
}

func indexCmd() *cobra.Command {
	var manifest string

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build the catalog index from a manifest (local driver only)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			local, ok := a.store.(*dbLocal.Store)
			if !ok {
				return fmt.Errorf("indexing is only supported with the local database driver")
			}

			data, err := os.ReadFile(manifest)
			if err != nil {
				return fmt.Errorf("read manifest: %w", err)
			}
			var items []catalogItem
			if err := json.Unmarshal(data, &items); err != nil {
				return fmt.Errorf("parse manifest: %w", err)
			}

			indexName := catalog.IndexName(a.cfg.Search.Collection)
			indexed := 0
			for _, item := range items {
				if err := indexItem(cmd.Context(), local, a.embed, indexName, item); err != nil {
					a.logger.Warn("Skipping catalog item",
						zap.String("product_id", item.ProductID), zap.Error(err))
					continue
				}
				indexed++
			}

			a.logger.Info("Catalog indexed",
				zap.String("index", indexName),
				zap.Int("indexed", indexed),
				zap.Int("skipped", len(items)-indexed),
			)
			fmt.Printf("indexed %d/%d items into %s\n", indexed, len(items), indexName)
			return nil
		},
	}

	cmd.Flags().StringVar(&manifest, "manifest", "catalog.json", "path to the catalog manifest")
	return cmd
}

func indexItem(ctx context.Context, store *dbLocal.Store, embedder domain.Embedder, indexName string, item catalogItem) error {
	data, err := os.ReadFile(item.Path)
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}
	img, err := imaging.Decode(data)
	if err != nil {
		return fmt.Errorf("decode image: %w", err)
	}

	emb, err := embedder.EmbedImage(ctx, img)
	if err != nil {
		return fmt.Errorf("embed image: %w", err)
	}

	return store.Upsert(ctx, indexName, item.ProductID, emb.Vector, map[string]string{
		"product_id":           item.ProductID,
		"path":                 item.Path,
		"semantic_description": item.SemanticDescription,
	})
}
