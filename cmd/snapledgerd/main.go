package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/snapledger/snapledger/internal/batch"
	"github.com/snapledger/snapledger/internal/capture"
	"github.com/snapledger/snapledger/internal/notify"
	"github.com/snapledger/snapledger/internal/resilience"
	"github.com/snapledger/snapledger/internal/scan"
	"github.com/snapledger/snapledger/internal/server"
	"github.com/snapledger/snapledger/internal/staging"
	"github.com/snapledger/snapledger/internal/transaction"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	fs := ff.NewFlagSet("snapledger")
	var (
		port           = fs.IntLong("port", 8080, "HTTP server port")
		queuePath      = fs.StringLong("queue-db", "snapledger-queue.db", "Durable queue database file path")
		storagePath    = fs.StringLong("storage", "./captures", "Directory for original captured images")
		ocrBackend     = fs.StringLong("ocr", "http", "OCR backend: 'http' or 'gemini'")
		ocrURL         = fs.StringLong("ocr-url", "", "Remote OCR scan endpoint URL (http backend)")
		txnURL         = fs.StringLong("transactions-url", "", "Remote transactions API base URL")
		geminiKey      = fs.StringLong("gemini-key", "", "Google Gemini API key (or set SNAPLEDGER_GEMINI_KEY)")
		geminiModel    = fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		attemptTimeout = fs.DurationLong("attempt-timeout", scan.DefaultAttemptTimeout, "Per-attempt network timeout")
		retryAttempts  = fs.IntLong("retry-attempts", resilience.DefaultAttempts, "Total attempts for retryable network calls")
		authUser       = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass       = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		showVersion    = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("SNAPLEDGER"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	slog.Info("Initializing durable queue...")
	queue, err := resilience.NewBoltQueue(*queuePath)
	if err != nil {
		slog.Error("Failed to initialize durable queue", "error", err)
		os.Exit(1)
	}
	defer queue.Close()

	notifier := notify.NewSlogNotifier(slog.Default())
	layer := resilience.NewLayer(queue, notifier, nil)
	layer.Retryer().Attempts = *retryAttempts

	var scanner scan.Scanner
	switch *ocrBackend {
	case "http":
		if *ocrURL == "" {
			slog.Error("OCR endpoint is required. Set --ocr-url or SNAPLEDGER_OCR_URL")
			os.Exit(1)
		}
		slog.Info("Initializing HTTP OCR backend...", "endpoint", *ocrURL)
		scanner = scan.NewHTTPScanner(*ocrURL, *attemptTimeout)
	case "gemini":
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key or GEMINI_API_KEY")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini OCR backend...", "model", *geminiModel)
		scanner, err = scan.NewGemini(apiKey, *geminiModel)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
	default:
		slog.Error("Invalid OCR backend", "backend", *ocrBackend, "valid", "http or gemini")
		os.Exit(1)
	}
	defer scanner.Close()

	if *txnURL == "" {
		slog.Error("Transactions API is required. Set --transactions-url or SNAPLEDGER_TRANSACTIONS_URL")
		os.Exit(1)
	}

	slog.Info("Initializing image storage...")
	images, err := capture.NewDiskStore(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize image storage", "error", err)
		os.Exit(1)
	}

	store := staging.NewStore()
	scans := scan.NewService(scanner, layer.Retryer())
	submitter := transaction.NewHTTPSubmitter(*txnURL, *attemptTimeout)
	materializer := transaction.NewMaterializer(store, submitter, layer)
	orchestrator := batch.NewOrchestrator(scans, store, materializer, layer, notifier)

	// Route queued payloads by type when draining: drafts go to the
	// transactions API, captures are replayed through scan submission.
	// Undecodable or unknown items are dropped so they cannot poison every
	// subsequent drain pass.
	syncFn := func(ctx context.Context, item resilience.Item) error {
		switch item.Type {
		case transaction.PayloadDraft:
			var draft transaction.Draft
			if err := json.Unmarshal(item.Payload, &draft); err != nil {
				slog.Warn("Dropping undecodable queued draft", "id", item.ID, "error", err)
				return nil
			}
			return submitter.CreateTransaction(ctx, &draft)
		case scan.PayloadCapture:
			img, err := scan.DecodeQueuedCapture(item.Payload)
			if err != nil {
				slog.Warn("Dropping undecodable queued capture", "id", item.ID, "error", err)
				return nil
			}
			staged := store.Begin()
			result, err := scans.Submit(ctx, img)
			if err != nil {
				store.Clear(staged.ID)
				return err
			}
			_, err = store.Complete(staged.ID, result)
			return err
		default:
			slog.Warn("Dropping queued item with unknown payload type", "id", item.ID, "type", item.Type)
			return nil
		}
	}

	srv := server.NewServer(scans, store, materializer, orchestrator, layer, images, syncFn, server.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	})

	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := srv.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)

	// Periodically retry queued offline deliveries.
	drainCtx, cancelDrain := context.WithCancel(context.Background())
	defer cancelDrain()
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-drainCtx.Done():
				return
			case <-ticker.C:
				stats := layer.Drain(drainCtx, resilience.QueueKeyOffline, syncFn)
				if stats.Synced > 0 || stats.Errors > 0 {
					slog.Info("Drained offline queue", "synced", stats.Synced, "errors", stats.Errors)
				}
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
}
