package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/dvloznov/bill-importer/internal/domain"
	"github.com/dvloznov/bill-importer/internal/logger"
)

// Outcome describes how a model reply was interpreted.
type Outcome string

const (
	OutcomeParsed    Outcome = "parsed"
	OutcomeNoArray   Outcome = "no_array"
	OutcomeMalformed Outcome = "malformed"
	OutcomeNotArray  Outcome = "not_array"
)

var (
	lazyArrayRe   = regexp.MustCompile(`(?s)\[\s*\{.*?\}\s*\]`)
	greedyArrayRe = regexp.MustCompile(`(?s)\[\s*\{.*\}\s*\]`)
)

// ParseResult is the outcome of ParseModelResponse. Transactions is never nil.
type ParseResult struct {
	Transactions []domain.RawTransaction
	Outcome      Outcome
	Warnings     []string
}

// ParseModelResponse locates the first JSON array of objects in reply. It
// never fails: unusable replies degrade to an empty result with a warning.
func ParseModelResponse(reply string) ParseResult {
	res := ParseResult{Transactions: []domain.RawTransaction{}}

	clean := cleanModelJSON(reply)
	candidate := lazyArrayRe.FindString(clean)
	if candidate == "" {
		if isJSONValue(clean) {
			res.Outcome = OutcomeNotArray
			res.Warnings = append(res.Warnings, "model reply is JSON but not an array")
			return res
		}
		res.Outcome = OutcomeNoArray
		return res
	}

	var parsed interface{}
	if err := json.Unmarshal([]byte(candidate), &parsed); err != nil {
		// The lazy match stops at the first "}]", which may belong to an
		// array nested inside an object.
		greedy := greedyArrayRe.FindString(clean)
		if greedy == "" || json.Unmarshal([]byte(greedy), &parsed) != nil {
			res.Outcome = OutcomeMalformed
			res.Warnings = append(res.Warnings, "model reply contains an array that is not valid JSON: "+err.Error())
			return res
		}
	}

	items, ok := parsed.([]interface{})
	if !ok {
		res.Outcome = OutcomeNotArray
		res.Warnings = append(res.Warnings, "model reply is not a JSON array")
		return res
	}

	for i, item := range items {
		obj, ok := item.(map[string]interface{})
		if !ok {
			res.Warnings = append(res.Warnings, fmt.Sprintf("skipping element %d: %T is not an object", i, item))
			continue
		}
		res.Transactions = append(res.Transactions, domain.RawTransaction(obj))
	}
	res.Outcome = OutcomeParsed
	return res
}

// LogWarnings writes parse warnings to the context logger.
func (r ParseResult) LogWarnings(ctx context.Context) {
	log := logger.FromContext(ctx)
	for _, w := range r.Warnings {
		log.Warn().Str("outcome", string(r.Outcome)).Msg(w)
	}
}

func isJSONValue(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	if s[0] != '{' && s[0] != '"' {
		return false
	}
	return json.Valid([]byte(s))
}

// cleanModelJSON strips Markdown code fences a model may wrap its reply in.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	// Handle ```json ... ``` or ``` ... ``` wrappers.
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}

	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}

	return strings.TrimSpace(s)
}
