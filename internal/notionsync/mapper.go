package notionsync

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/jomei/notionapi"

	"github.com/dvloznov/bill-importer/internal/domain"
)

// Property names of the Notion transactions database.
const (
	PropDescription    = "Description"
	PropTransactionID  = "Transaction ID"
	PropUserID         = "User ID"
	PropDate           = "Date"
	PropAmount         = "Amount"
	PropType           = "Type"
	PropCategory       = "Category"
	PropSource         = "Source"
	PropBalanceApplied = "Balance Applied"
	PropImportedAt     = "Imported At"
)

// TransactionToNotionProperties converts a transaction to Notion properties.
// Amount is signed so the database can sum it directly.
func TransactionToNotionProperties(tx domain.Transaction) notionapi.Properties {
	amount, _ := tx.Signed().Float64()

	props := notionapi.Properties{
		PropDescription:   titleProperty(tx.Description),
		PropTransactionID: richTextProperty(tx.ID),
		PropUserID:        richTextProperty(tx.UserID),
		PropDate:          dateProperty(tx.Date.In(time.UTC)),
		PropAmount:        notionapi.NumberProperty{Number: amount},
		PropType:          notionapi.SelectProperty{Select: notionapi.Option{Name: string(tx.Type)}},
		PropCategory:      notionapi.SelectProperty{Select: notionapi.Option{Name: string(tx.Category)}},
		PropBalanceApplied: notionapi.CheckboxProperty{
			Checkbox: tx.BalanceApplied,
		},
	}

	if tx.Source != "" {
		props[PropSource] = notionapi.SelectProperty{Select: notionapi.Option{Name: string(tx.Source)}}
	}
	if !tx.CreatedAt.IsZero() {
		props[PropImportedAt] = dateProperty(tx.CreatedAt)
	}

	return props
}

func titleProperty(s string) notionapi.TitleProperty {
	return notionapi.TitleProperty{
		Title: []notionapi.RichText{
			{
				Type: notionapi.ObjectTypeText,
				Text: &notionapi.Text{Content: s},
			},
		},
	}
}

func richTextProperty(s string) notionapi.RichTextProperty {
	return notionapi.RichTextProperty{
		RichText: []notionapi.RichText{
			{
				Type: notionapi.ObjectTypeText,
				Text: &notionapi.Text{Content: s},
			},
		},
	}
}

func dateProperty(t time.Time) notionapi.DateProperty {
	d := notionapi.Date(t)
	return notionapi.DateProperty{Date: &notionapi.DateObject{Start: &d}}
}

// pageText reads a rich text or title property as decoded from the API.
func pageText(page notionapi.Page, name string) string {
	switch prop := page.Properties[name].(type) {
	case *notionapi.RichTextProperty:
		if len(prop.RichText) > 0 {
			return prop.RichText[0].PlainText
		}
	case *notionapi.TitleProperty:
		if len(prop.Title) > 0 {
			return prop.Title[0].PlainText
		}
	}
	return ""
}

// pageDate reads a date property, reporting false when it is missing.
func pageDate(page notionapi.Page, name string) (civil.Date, bool) {
	prop, ok := page.Properties[name].(*notionapi.DateProperty)
	if !ok || prop.Date == nil || prop.Date.Start == nil {
		return civil.Date{}, false
	}
	return civil.DateOf(time.Time(*prop.Date.Start)), true
}
