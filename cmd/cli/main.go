package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/bill-importer/internal/app"
	"github.com/dvloznov/bill-importer/internal/config"
	"github.com/dvloznov/bill-importer/internal/domain"
	"github.com/dvloznov/bill-importer/internal/gcsuploader"
	"github.com/dvloznov/bill-importer/internal/logger"
	"github.com/dvloznov/bill-importer/internal/notionsync"
	"github.com/dvloznov/bill-importer/internal/pipeline"
	"github.com/dvloznov/bill-importer/internal/store/backend"
	"github.com/dvloznov/bill-importer/internal/summary"
	"github.com/dvloznov/bill-importer/internal/textextract"
)

func main() {
	cfg := config.Load()
	log := logger.NewWithLevel(cfg.LogLevel)

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "import":
		runImport(cfg, log)
	case "scan":
		runScan(cfg, log)
	case "extract":
		runExtract(log)
	case "profile":
		runProfile(cfg, log)
	case "summary":
		runSummary(cfg, log)
	case "report":
		runReport(cfg, log)
	case "sync-notion":
		runSyncNotion(cfg, log)
	case "upload":
		runUpload(cfg, log)
	case "migrate":
		runMigrate(cfg, log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Bill Importer CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  import       Import a bill or statement for a user")
	fmt.Println("  scan         Import a scanned QR/barcode payload for a user")
	fmt.Println("  extract      Print the text extracted from a document")
	fmt.Println("  profile      Show or set a user's balance and budget")
	fmt.Println("  summary      Show a user's monthly overview")
	fmt.Println("  report       Show or generate a user's monthly AI report")
	fmt.Println("  sync-notion  Mirror a user's transactions into Notion")
	fmt.Println("  upload       Upload a document to the GCS staging bucket")
	fmt.Println("  migrate      Apply store migrations and exit")
	fmt.Println("  help         Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

// contentTypeOf guesses a document's media type from its name. Unknown
// extensions are treated as PDF.
func contentTypeOf(name string) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return textextract.MediaTypePDF
}

func runImport(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	userID := fs.String("user", "", "User ID owning the transactions")
	filePath := fs.String("file", "", "Path to a local PDF or text document")
	gcsURI := fs.String("gcs-uri", "", "GCS URI of the document")
	offline := fs.Bool("offline", false, "Extract with line rules instead of the language model")
	contentType := fs.String("type", "", "Declared media type (default from the file extension, else application/pdf)")
	fs.Parse(os.Args[2:])

	if *userID == "" || (*filePath == "") == (*gcsURI == "") {
		log.Fatal().Msg("Usage: cli import -user ID (-file PATH | -gcs-uri gs://...) [-offline]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	var (
		document []byte
		err      error
	)
	if *filePath != "" {
		document, err = os.ReadFile(*filePath)
	} else {
		document, err = fetchFromGCS(ctx, *gcsURI)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read document")
	}

	var importer *pipeline.Importer
	if *offline {
		s, err := backend.Open(ctx, cfg.Store)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open store")
		}
		defer s.Close()
		importer = app.NewImporter(cfg.Pipeline, textextract.NewPDF(), pipeline.NewRuleExtractor(), s, nil)
	} else {
		components, err := app.Build(ctx, cfg, nil)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to build importer")
		}
		defer components.Close()
		importer = components.Importer
	}

	log.Info().Str("user_id", *userID).Int("bytes", len(document)).Bool("offline", *offline).Msg("Starting import")

	declared := *contentType
	if declared == "" {
		declared = contentTypeOf(*filePath + *gcsURI)
	}

	result, err := importer.ImportDocumentAs(ctx, *userID, document, declared)
	if err != nil {
		if pipeline.IsPersistence(err) {
			printJSON(result)
		}
		log.Fatal().Err(err).Msg("Import failed")
	}
	if result.Empty {
		log.Warn().Msg("No transactions found in document")
	}
	printJSON(result)
}

func runScan(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	userID := fs.String("user", "", "User ID owning the transaction")
	payload := fs.String("payload", "", "Decoded QR or barcode payload")
	fs.Parse(os.Args[2:])

	if *userID == "" || *payload == "" {
		log.Fatal().Msg("Usage: cli scan -user ID -payload TEXT")
	}

	ctx := logger.WithContext(context.Background(), log)

	s, err := backend.Open(ctx, cfg.Store)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer s.Close()

	// Scans never reach the text or model stages.
	importer := app.NewImporter(cfg.Pipeline, textextract.NewPDF(), pipeline.NewRuleExtractor(), s, nil)
	result, err := importer.ImportScanned(ctx, *userID, *payload)
	if err != nil {
		log.Fatal().Err(err).Msg("Scan import failed")
	}
	printJSON(result)
}

func runExtract(log zerolog.Logger) {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	filePath := fs.String("file", "", "Path to a local PDF or text document")
	filter := fs.Bool("filter", true, "Apply the noise filter")
	contentType := fs.String("type", "", "Declared media type (default from the file extension, else application/pdf)")
	fs.Parse(os.Args[2:])

	if *filePath == "" {
		log.Fatal().Msg("Usage: cli extract -file PATH [-filter=false]")
	}

	document, err := os.ReadFile(*filePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read document")
	}

	declared := *contentType
	if declared == "" {
		declared = contentTypeOf(*filePath)
	}
	extractor, err := textextract.NewByContentType(textextract.NewPDF(), textextract.PlainText{}).For(declared)
	if err != nil {
		log.Fatal().Err(err).Msg("Unsupported document type")
	}

	ctx := logger.WithContext(context.Background(), log)
	text, err := extractor.ExtractText(ctx, document)
	if err != nil {
		log.Fatal().Err(err).Msg("Extraction failed")
	}
	if *filter {
		text = pipeline.FilterNoise(text)
	}
	fmt.Println(text)
}

func runProfile(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("profile", flag.ExitOnError)
	userID := fs.String("user", "", "User ID")
	balance := fs.String("balance", "", "Set the current balance; anchors the balance at today")
	budget := fs.String("budget", "", "Set the monthly budget")
	fs.Parse(os.Args[2:])

	if *userID == "" {
		log.Fatal().Msg("Usage: cli profile -user ID [-balance AMOUNT] [-budget AMOUNT]")
	}

	ctx := logger.WithContext(context.Background(), log)

	s, err := backend.Open(ctx, cfg.Store)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer s.Close()

	var patch domain.ProfilePatch
	if *balance != "" {
		amount, err := decimal.NewFromString(*balance)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid balance")
		}
		today := civil.DateOf(time.Now())
		explicit := true
		patch.CurrentBalance = &amount
		patch.BalanceSetDate = &today
		patch.AnchorExplicit = &explicit
	}
	if *budget != "" {
		amount, err := decimal.NewFromString(*budget)
		if err != nil || amount.IsNegative() {
			log.Fatal().Str("budget", *budget).Msg("Invalid budget")
		}
		patch.MonthlyBudget = &amount
	}

	if !patch.Empty() {
		if err := s.WriteProfile(ctx, *userID, patch); err != nil {
			log.Fatal().Err(err).Msg("Failed to write profile")
		}
	}

	profile, err := s.ReadProfile(ctx, *userID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read profile")
	}
	if profile == nil {
		log.Fatal().Str("user_id", *userID).Msg("Profile not found")
	}
	printJSON(profile)
}

func runSummary(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("summary", flag.ExitOnError)
	userID := fs.String("user", "", "User ID")
	month := fs.String("month", "", "Month as YYYY-MM (defaults to the current month)")
	fs.Parse(os.Args[2:])

	if *userID == "" {
		log.Fatal().Msg("Usage: cli summary -user ID [-month YYYY-MM]")
	}

	year, m, err := summary.ParseMonth(*month, time.Now())
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid month")
	}

	ctx := logger.WithContext(context.Background(), log)

	s, err := backend.Open(ctx, cfg.Store)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer s.Close()

	overview, err := summary.NewService(s).Monthly(ctx, *userID, year, m)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to compute summary")
	}
	printJSON(overview)
}

func runReport(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	userID := fs.String("user", "", "User ID")
	month := fs.String("month", "", "Month as YYYY-MM (defaults to the current month)")
	refresh := fs.Bool("refresh", false, "Regenerate even when a report is cached")
	fs.Parse(os.Args[2:])

	if *userID == "" {
		log.Fatal().Msg("Usage: cli report -user ID [-month YYYY-MM] [-refresh]")
	}

	year, m, err := summary.ParseMonth(*month, time.Now())
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid month")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	components, err := app.Build(ctx, cfg, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build components")
	}
	defer components.Close()

	report, err := summary.NewReporter(components.Store, components.Completer, nil).Report(ctx, *userID, year, m, *refresh)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build report")
	}
	printJSON(report)
}

func runSyncNotion(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("sync-notion", flag.ExitOnError)
	userID := fs.String("user", "", "User ID")
	from := fs.String("from", "", "Start date (YYYY-MM-DD)")
	to := fs.String("to", "", "End date (YYYY-MM-DD)")
	dryRun := fs.Bool("dry-run", false, "Show what would be synced without writing to Notion")
	fs.Parse(os.Args[2:])

	if *userID == "" || *from == "" || *to == "" {
		log.Fatal().Msg("Usage: cli sync-notion -user ID -from YYYY-MM-DD -to YYYY-MM-DD [-dry-run]")
	}

	startDate, err := civil.ParseDate(*from)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid start date format (use YYYY-MM-DD)")
	}
	endDate, err := civil.ParseDate(*to)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid end date format (use YYYY-MM-DD)")
	}
	if endDate.Before(startDate) {
		log.Fatal().Msg("End date must be on or after start date")
	}

	notionClient, databaseID, err := notionsync.NewFromConfig(cfg.Notion)
	if err != nil {
		log.Fatal().Err(err).Msg("Notion is not configured")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	s, err := backend.Open(ctx, cfg.Store)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer s.Close()

	stats, err := notionsync.SyncTransactions(ctx, s, notionClient, databaseID, *userID, startDate, endDate, *dryRun)
	if err != nil {
		log.Fatal().Err(err).Msg("Sync failed")
	}
	printJSON(stats)
}

func runUpload(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	bucketName := fs.String("bucket", cfg.Queue.GCSBucket, "GCS bucket name (defaults to GCS_BUCKET)")
	objectName := fs.String("object", "", "GCS object name (defaults to filename)")
	filePath := fs.String("file", "", "Path to local document")
	fs.Parse(os.Args[2:])

	if *bucketName == "" || *filePath == "" {
		log.Fatal().Msg("Usage: cli upload -bucket NAME -file PATH")
	}

	if *objectName == "" {
		*objectName = filepath.Base(*filePath)
	}

	ctx := logger.WithContext(context.Background(), log)

	gcs, err := gcsuploader.NewGCSStorageService(ctx, *bucketName)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create GCS client")
	}
	defer gcs.Close()

	uri, err := gcs.UploadFile(ctx, *objectName, *filePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Upload failed")
	}

	fmt.Println(uri)
}

func runMigrate(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	fs.Parse(os.Args[2:])

	ctx := logger.WithContext(context.Background(), log)

	s, err := backend.Open(ctx, cfg.Store)
	if err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}
	defer s.Close()

	log.Info().Str("store", cfg.Store.Backend).Msg("Store schema is up to date")
}

func fetchFromGCS(ctx context.Context, gcsURI string) ([]byte, error) {
	bucket, _, err := gcsuploader.ParseGCSURI(gcsURI)
	if err != nil {
		return nil, err
	}
	gcs, err := gcsuploader.NewGCSStorageService(ctx, bucket)
	if err != nil {
		return nil, err
	}
	defer gcs.Close()
	return gcs.FetchFromGCS(ctx, gcsURI)
}
