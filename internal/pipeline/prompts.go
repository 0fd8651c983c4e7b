package pipeline

import (
	"strings"

	"github.com/dvloznov/bill-importer/internal/domain"
)

// summaryLineExamples are statement lines that look like amounts but are not
// transactions.
var summaryLineExamples = []string{
	`"Total to pay", "Total purchases on all cards"`,
	`"Previous bill", "Balance", "Available limit", "Credit limit"`,
	`"Bill closing", "Due date", "Cut-off date"`,
	`"Future entries", "Instalment x of y" (when it only labels an instalment and is not the original purchase)`,
	`Any sentence that describes the document instead of a specific transaction`,
}

// BuildExtractionPrompt renders the instruction sent to the model for one
// document. text may be filtered or raw.
func BuildExtractionPrompt(text string) string {
	var b strings.Builder

	b.WriteString("You are a financial assistant that extracts and categorizes transactions.\n\n")
	b.WriteString("Below is the content of a bill, invoice or bank statement.\n")
	b.WriteString("Extract ALL individual financial transactions it lists and format them as a JSON array of objects.\n\n")

	b.WriteString("Each transaction object MUST have these keys:\n")
	b.WriteString("- \"description\": string. A short description of the transaction line.\n")
	b.WriteString("- \"amount\": number. The absolute value of the transaction. Use a dot as the decimal separator, never a comma (\"R$ 30,00\" becomes 30.00).\n")
	b.WriteString("- \"type\": string. Exactly \"expense\" for money out or \"income\" for money in.\n")
	b.WriteString("- \"category\": string. Choose ONLY from the following categories:\n")
	for _, c := range domain.Categories {
		b.WriteString("    - \"" + string(c) + "\"\n")
	}
	b.WriteString("  If no category fits, use \"" + string(domain.CategoryOther) + "\".\n")
	b.WriteString("- \"date\": string, optional. The transaction date in ISO format \"YYYY-MM-DD\".\n\n")

	b.WriteString("Transaction rules:\n")
	b.WriteString("- Extract EVERY transaction. Scan the whole document and do not omit any valid money movement.\n")
	b.WriteString("- Focus on line items: lines that clearly carry a date, a description and an amount.\n")
	b.WriteString("- Do NOT include totals, balances, bill summaries, headers, footers or descriptive text. Examples to ignore:\n")
	for _, ex := range summaryLineExamples {
		b.WriteString("    - " + ex + "\n")
	}
	b.WriteString("- Negative values or outflow wording (\"Debit\", \"Payment of\", \"Purchase\", \"Sent\") mean \"expense\".\n")
	b.WriteString("  Positive values or inflow wording (\"Credit\", \"Received\", \"Incoming transfer\") mean \"income\".\n\n")

	b.WriteString("Date rules:\n")
	b.WriteString("- A full date written next to the transaction (e.g. \"30/06/2025\") ALWAYS takes precedence. Convert it to \"YYYY-MM-DD\".\n")
	b.WriteString("- When a line has no year or month, infer them from the statement period elsewhere in the document,\n")
	b.WriteString("  such as \"Statement for [Month/Year]\", \"Due on DD/MM/YYYY\" or \"Period: DD/MM/YYYY to DD/MM/YYYY\".\n")
	b.WriteString("- Keep months consistent with that period: in a July 2025 statement \"01/07\" is \"2025-07-01\" and \"30/06\" is \"2025-06-30\".\n")
	b.WriteString("- If no precise date can be inferred, omit the \"date\" key.\n\n")

	b.WriteString("Output rules:\n")
	b.WriteString("- Return ONLY the raw JSON array, with no prose, explanation or Markdown.\n")
	b.WriteString("- Do NOT wrap the response in code fences.\n")
	b.WriteString("- If there are no clear transactions, return an empty array: [].\n\n")

	b.WriteString("Text to analyse:\n")
	b.WriteString(text)
	b.WriteString("\n\n")

	b.WriteString("Example output:\n")
	b.WriteString(`[
  {"description": "Rent payment", "amount": 1500.00, "type": "expense", "category": "Housing", "date": "2025-06-28"},
  {"description": "Supermarket XYZ", "amount": 250.75, "type": "expense", "category": "Food", "date": "2025-06-27"},
  {"description": "Transfer received", "amount": 100.00, "type": "income", "category": "Other", "date": "2025-07-01"},
  {"description": "IOF charge", "amount": 0.46, "type": "expense", "category": "Bills", "date": "2025-07-06"}
]`)
	b.WriteString("\n")

	return b.String()
}
