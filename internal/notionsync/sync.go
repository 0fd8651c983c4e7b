package notionsync

import (
	"context"
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/jomei/notionapi"

	"github.com/dvloznov/bill-importer/internal/logger"
	"github.com/dvloznov/bill-importer/internal/store"
)

// SyncStats summarizes one sync run.
type SyncStats struct {
	Total   int
	Created int
	Skipped int
	Deleted int
	Failed  int
}

// SyncTransactions mirrors a user's transactions dated within [from, to]
// into a Notion database. Pages are keyed by the Transaction ID property, so
// repeated runs only create what is missing. Pages of the same user in the
// same range whose transaction no longer exists are archived.
func SyncTransactions(ctx context.Context, s store.Store, notionClient NotionService, notionDBID, userID string, from, to civil.Date, dryRun bool) (SyncStats, error) {
	log := logger.FromContext(ctx).With().Str("user_id", userID).Logger()

	log.Info().
		Str("start_date", from.String()).
		Str("end_date", to.String()).
		Bool("dry_run", dryRun).
		Msg("Starting transaction sync to Notion")

	transactions, err := s.ListTransactions(ctx, userID, store.TransactionFilter{From: &from, To: &to})
	if err != nil {
		return SyncStats{}, fmt.Errorf("SyncTransactions: query transactions: %w", err)
	}
	stats := SyncStats{Total: len(transactions)}
	log.Info().Int("transaction_count", len(transactions)).Msg("Retrieved transactions from store")

	valid := make(map[string]bool, len(transactions))
	for _, tx := range transactions {
		valid[tx.ID] = true
	}

	notionPages, err := queryAllNotionPages(ctx, notionClient, notionDBID)
	if err != nil {
		return stats, fmt.Errorf("SyncTransactions: query Notion pages: %w", err)
	}
	log.Info().Int("notion_page_count", len(notionPages)).Msg("Retrieved existing Notion pages")

	existing := make(map[string]bool)
	for _, page := range notionPages {
		if pageText(page, PropUserID) != userID {
			continue
		}
		txID := pageText(page, PropTransactionID)
		if txID != "" {
			existing[txID] = true
		}

		date, ok := pageDate(page, PropDate)
		if !ok || date.Before(from) || date.After(to) || (txID != "" && valid[txID]) {
			continue
		}

		if dryRun {
			log.Info().Str("transaction_id", txID).Str("page_id", string(page.ID)).Msg("[DRY RUN] Would delete stale Notion page")
			stats.Deleted++
			continue
		}
		if err := notionClient.DeletePage(ctx, string(page.ID)); err != nil {
			log.Warn().Err(err).Str("transaction_id", txID).Str("page_id", string(page.ID)).Msg("Failed to delete stale Notion page")
			stats.Failed++
			continue
		}
		stats.Deleted++
	}

	for _, tx := range transactions {
		if existing[tx.ID] {
			stats.Skipped++
			continue
		}
		if dryRun {
			log.Info().Str("transaction_id", tx.ID).Msg("[DRY RUN] Would create new Notion page")
			stats.Created++
			continue
		}

		page, err := notionClient.CreatePage(ctx, notionDBID, TransactionToNotionProperties(tx))
		if err != nil {
			// Continue with the rest; the next run retries it.
			log.Warn().Err(err).Str("transaction_id", tx.ID).Msg("Failed to create Notion page")
			stats.Failed++
			continue
		}
		log.Debug().Str("transaction_id", tx.ID).Str("page_id", string(page.ID)).Msg("Created Notion page")
		stats.Created++
	}

	log.Info().
		Int("deleted", stats.Deleted).
		Int("created", stats.Created).
		Int("skipped", stats.Skipped).
		Int("failed", stats.Failed).
		Int("total", stats.Total).
		Msg("Transaction sync completed")

	return stats, nil
}

// queryAllNotionPages queries all pages from a Notion database and returns them.
// Handles pagination automatically.
func queryAllNotionPages(ctx context.Context, notionClient NotionService, databaseID string) ([]notionapi.Page, error) {
	var allPages []notionapi.Page
	var cursor notionapi.Cursor

	for {
		req := &notionapi.DatabaseQueryRequest{
			PageSize: 100,
		}
		if cursor != "" {
			req.StartCursor = cursor
		}

		resp, err := notionClient.QueryDatabase(ctx, databaseID, req)
		if err != nil {
			return nil, fmt.Errorf("queryAllNotionPages: %w", err)
		}

		allPages = append(allPages, resp.Results...)

		if !resp.HasMore {
			break
		}
		cursor = resp.NextCursor
	}

	return allPages, nil
}
