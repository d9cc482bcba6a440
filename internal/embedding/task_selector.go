package embedding

import (
	"strings"
)

// =============================================================================
// TASK TYPE SELECTION
// =============================================================================

// ContentType represents the kind of text being embedded. GenAI embeddings
// are tuned per task, so the ingest pipeline and the retrieval engine label
// what they embed.
type ContentType string

const (
	ContentTypePolicy        ContentType = "policy"         // Policy and terms documents
	ContentTypeService       ContentType = "service"        // Catalog and service descriptions
	ContentTypeFAQ           ContentType = "faq"            // Question/answer knowledge entries
	ContentTypeQuery         ContentType = "query"          // User turn text at retrieval time
	ContentTypeQuestion      ContentType = "question"       // Explicit questions
	ContentTypeIntentExample ContentType = "intent_example" // Labeled utterances for intent matching
	ContentTypeComplaint     ContentType = "complaint"      // Complaint descriptions
)

// SelectTaskType selects the GenAI task type for a content type. isQuery
// distinguishes the search side from the index side of retrieval.
func SelectTaskType(contentType ContentType, isQuery bool) string {
	switch contentType {
	case ContentTypePolicy, ContentTypeService, ContentTypeFAQ:
		if isQuery {
			return "RETRIEVAL_QUERY"
		}
		return "RETRIEVAL_DOCUMENT"

	case ContentTypeQuery:
		return "RETRIEVAL_QUERY"

	case ContentTypeQuestion:
		return "QUESTION_ANSWERING"

	case ContentTypeIntentExample:
		return "CLASSIFICATION"

	case ContentTypeComplaint:
		return "SEMANTIC_SIMILARITY"

	default:
		return "SEMANTIC_SIMILARITY"
	}
}

// DetectContentType attempts to auto-detect content type from text and chunk
// metadata. Metadata wins over heuristics.
func DetectContentType(text string, metadata map[string]string) ContentType {
	if ct, ok := metadata["content_type"]; ok && ct != "" {
		return ContentType(ct)
	}

	switch metadata["type"] {
	case "policy", "terms", "sla":
		return ContentTypePolicy
	case "service", "catalog", "rate_card":
		return ContentTypeService
	case "faq":
		return ContentTypeFAQ
	case "user_input", "query":
		return ContentTypeQuery
	case "intent", "intent_example":
		return ContentTypeIntentExample
	case "complaint":
		return ContentTypeComplaint
	}

	lower := strings.ToLower(strings.TrimSpace(text))

	// Question indicators
	if strings.HasSuffix(lower, "?") ||
		strings.HasPrefix(lower, "what ") || strings.HasPrefix(lower, "how ") ||
		strings.HasPrefix(lower, "why ") || strings.HasPrefix(lower, "when ") ||
		strings.HasPrefix(lower, "where ") {
		return ContentTypeQuestion
	}

	// Policy indicators
	policyIndicators := []string{"policy", "refund", "cancellation", "terms", "charge", "fee", "sla", "liability", "reschedul"}
	policyScore := 0
	for _, indicator := range policyIndicators {
		if strings.Contains(lower, indicator) {
			policyScore++
		}
	}
	if policyScore >= 2 {
		return ContentTypePolicy
	}

	// Service description indicators
	serviceIndicators := []string{"service", "cleaning", "repair", "plumbing", "includes", "duration", "technician"}
	serviceScore := 0
	for _, indicator := range serviceIndicators {
		if strings.Contains(lower, indicator) {
			serviceScore++
		}
	}
	if serviceScore >= 2 {
		return ContentTypeService
	}

	// Short conversational text is a query; long unlabeled text is most
	// likely a document being ingested.
	if len(lower) >= 200 {
		return ContentTypePolicy
	}
	return ContentTypeQuery
}

// GetOptimalTaskType combines detection and selection for convenience.
func GetOptimalTaskType(text string, metadata map[string]string, isQuery bool) string {
	contentType := DetectContentType(text, metadata)
	return SelectTaskType(contentType, isQuery)
}
