// Package perception turns raw user utterances into structured signals: an
// intent, a confidence, extracted entities, and a sentiment score. The
// deterministic pass (a scored corpus of patterns and synonyms, regex entity
// extractors, a sentiment lexicon) runs first, and an optional LLM assist
// only runs when that pass is unsure. Everything downstream
// (routing, workflows, commits) consumes the structured result, never the raw
// text, so perception is the single place utterance parsing lives.
package perception

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"convergeai/internal/logging"
	"convergeai/internal/types"
)

// =============================================================================
// INTENT CORPUS
// =============================================================================

// intentEntry defines one recognizable intent with its synonyms and patterns.
type intentEntry struct {
	Intent   types.Intent
	Synonyms []string         // substrings that weakly indicate this intent
	Patterns []*regexp.Regexp // regexes that strongly indicate this intent
	Priority int              // higher priority wins in ambiguous cases
}

// intentCorpus maps natural language to intents. Pattern matches score high
// enough to clear the confidence floor; synonym-only matches deliberately do
// not, so they surface as low-confidence results that either trigger the LLM
// assist or route to a clarification reply.
var intentCorpus = []intentEntry{
	{
		Intent:   types.IntentGreeting,
		Synonyms: []string{"hello", "hi there", "namaste"},
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)^\s*(hi|hii+|hello|hey|yo|namaste|greetings)[\s!.,]*$`),
			regexp.MustCompile(`(?i)^\s*good\s+(morning|afternoon|evening)\b`),
			regexp.MustCompile(`(?i)^\s*(hi|hello|hey)\s+there\b`),
		},
		Priority: 10,
	},
	{
		Intent:   types.IntentBooking,
		Synonyms: []string{"book", "booking", "appointment", "schedule", "reserve"},
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(book|schedule|arrange|set\s+up)\b.*\b(service|clean\w*|repair\w*|visit|appointment|slot)\b`),
			regexp.MustCompile(`(?i)\bi(?:'d| would)? (?:want|need|like|love) to book\b`),
			regexp.MustCompile(`(?i)\b(?:want|need|looking for)\b.*\b(repair\w*|clean\w*|service|plumb\w*|install\w*|technician)\b`),
			regexp.MustCompile(`(?i)\bmake\s+a\s+booking\b`),
			regexp.MustCompile(`(?i)\bbook\s+(a|an|the|my)\b`),
		},
		Priority: 30,
	},
	{
		Intent:   types.IntentReschedule,
		Synonyms: []string{"reschedule", "postpone", "prepone", "another slot"},
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(reschedul\w*|postpon\w*|prepon\w*)\b`),
			regexp.MustCompile(`(?i)\b(move|change|shift|push)\b.*\b(booking|order|appointment|date|time|slot)\b`),
		},
		Priority: 45,
	},
	{
		Intent:   types.IntentCancellation,
		Synonyms: []string{"cancel", "cancellation", "call off"},
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\bcancel\w*\b.*\b(booking|order|appointment|service|visit|it)\b`),
			regexp.MustCompile(`(?i)\b(call\s+off)\b`),
			regexp.MustCompile(`(?i)\bdon'?t\s+(want|need)\s+(the|my|this)\s+(booking|service|appointment)\b`),
		},
		Priority: 40,
	},
	{
		Intent: types.IntentComplaint,
		Synonyms: []string{
			"complaint", "complain", "unhappy", "dissatisfied", "terrible",
			"awful", "worst", "pathetic", "cheated", "damaged",
		},
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(file|raise|register|lodge|make)\b.*\bcomplaint\b`),
			regexp.MustCompile(`(?i)\b(complain\w*|grievance)\b`),
			regexp.MustCompile(`(?i)\b(technician|provider|cleaner|plumber|service)\b.*\b(rude|late|never\s+(came|showed|turned)|no.?show|damag\w*|broke|terrible|awful|horrible|worst|pathetic)\b`),
			regexp.MustCompile(`(?i)\b(unhappy|dissatisfied|disappointed|frustrated)\b.*\b(service|booking|experience|work)\b`),
			regexp.MustCompile(`(?i)\brefund\b.*\b(not|hasn'?t|still|pending|missing|never)\b`),
			regexp.MustCompile(`(?i)\b(charged|billed)\b.*\b(twice|double|extra|wrong\w*)\b`),
		},
		Priority: 50,
	},
	{
		Intent:   types.IntentServiceInquiry,
		Synonyms: []string{"services", "catalog", "browse", "options"},
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\bwhat\b.*\b(services?|categories)\b.*\b(offer|available|provide|have)\b`),
			regexp.MustCompile(`(?i)\b(show|list|browse|see)\b.*\b(services?|categories|catalog|options)\b`),
			regexp.MustCompile(`(?i)\bdo\s+you\s+(do|offer|have|provide)\b`),
			regexp.MustCompile(`(?i)\bwhat\s+(all\s+)?services\b`),
			regexp.MustCompile(`(?i)\b(recommend|suggest)\b.*\b(service|something|option)\b`),
			regexp.MustCompile(`(?i)\btell\s+me\s+(more\s+)?about\b.*\b(service|clean\w*|repair\w*)\b`),
		},
		Priority: 25,
	},
	{
		Intent:   types.IntentPolicyInquiry,
		Synonyms: []string{"policy", "policies", "terms", "warranty", "guarantee"},
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(policy|policies|terms\s+and\s+conditions|warranty|guarantee)\b`),
			regexp.MustCompile(`(?i)\b(can|could|how|when|what|will|am\s+i|do\s+i)\b.*\brefunds?\b`),
			regexp.MustCompile(`(?i)\brefunds?\b.*\b(how|when|eligib\w*|timeline|days)\b`),
			regexp.MustCompile(`(?i)\bhow\s+(do|does|long)\b.*\b(cancel\w*|refund\w*|reschedul\w*)\b`),
		},
		Priority: 55,
	},
	{
		Intent:   types.IntentPriceInquiry,
		Synonyms: []string{"price", "pricing", "cost", "charges", "rates"},
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\bhow\s+much\b`),
			regexp.MustCompile(`(?i)\bwhat\b.*\b(price|cost|charge|rate|fee)s?\b`),
			regexp.MustCompile(`(?i)\b(price|cost|charge|rate|fee)s?\s+(of|for)\b`),
			regexp.MustCompile(`(?i)\b(cheap\w*|expensive|afford\w*)\b`),
		},
		Priority: 35,
	},
	{
		Intent:   types.IntentStatusInquiry,
		Synonyms: []string{"status", "track", "my bookings", "my orders"},
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(status|track|progress)\b.*\b(booking|order|service|complaint|request)\b`),
			regexp.MustCompile(`(?i)\bwhere\s+is\s+my\b`),
			regexp.MustCompile(`(?i)\b(my|show\s+my|list\s+my|view\s+my)\s+(bookings?|orders?|appointments?)\b`),
			regexp.MustCompile(`(?i)\bwhen\s+is\b.*\b(technician|cleaner|plumber|provider)\b.*\b(coming|arriving)\b`),
			regexp.MustCompile(`(?i)\b(upcoming|scheduled)\s+(booking|service|visit)s?\b`),
		},
		Priority: 42,
	},
}

// workflowCancelPatterns escape an active workflow. Matched before the
// workflow engine sees the turn.
var workflowCancelPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bcancel\b`),
	regexp.MustCompile(`(?i)\bstop\b`),
	regexp.MustCompile(`(?i)\bnever\s*mind\b`),
}

// IsWorkflowCancellation reports whether an utterance should abort the
// active workflow instead of being fed to it.
func IsWorkflowCancellation(text string) bool {
	for _, p := range workflowCancelPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// =============================================================================
// CLASSIFIER
// =============================================================================

// aliasRefreshInterval bounds how often the catalog alias index is rebuilt.
const aliasRefreshInterval = 5 * time.Minute

// llmAssistTimeout bounds the optional LLM classification call so a slow
// provider cannot eat the whole turn budget.
const llmAssistTimeout = 10 * time.Second

type aliasEntry struct {
	phrase        string
	subcategoryID int64
	categoryID    int64
}

// Classifier scores utterances against the intent corpus and extracts
// entities. A catalog repo enables service-alias resolution ("ac repair" →
// subcategory id); an LLM client enables the low-confidence assist. Both are
// optional.
type Classifier struct {
	catalog types.CatalogRepo
	llm     types.LLMClient
	now     func() time.Time

	mu         sync.Mutex
	aliasIndex []aliasEntry
	aliasAt    time.Time
}

// NewClassifier creates a classifier. catalog and llm may be nil.
func NewClassifier(catalog types.CatalogRepo, llm types.LLMClient) *Classifier {
	return &Classifier{
		catalog: catalog,
		llm:     llm,
		now:     time.Now,
	}
}

// Classify maps an utterance to an intent with confidence and entities.
// Confidence below types.ConfidenceFloor demotes the intent to "other" with
// the low-confidence flag set; the measured confidence is kept so callers
// can log it.
func (c *Classifier) Classify(ctx context.Context, text string) types.Classification {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return types.Classification{Intent: types.IntentOther, Confidence: 0, LowConfidence: true}
	}

	entities := ExtractEntities(trimmed, c.now())
	c.resolveServiceAlias(ctx, strings.ToLower(trimmed), entities)

	intent, confidence := matchIntentFromCorpus(trimmed)
	logging.PerceptionDebug("classify: %q -> %s (%.2f) entities=%d", snippet(trimmed), intent, confidence, len(entities))

	if confidence < types.ConfidenceFloor && c.llm != nil {
		if li, lc, ok := c.llmAssist(ctx, trimmed); ok && lc >= types.ConfidenceFloor {
			logging.Perception("classify: llm assist %q -> %s (%.2f)", snippet(trimmed), li, lc)
			intent, confidence = li, lc
		}
	}

	result := types.Classification{Intent: intent, Confidence: confidence, Entities: entities}
	if confidence < types.ConfidenceFloor {
		result.Intent = types.IntentOther
		result.LowConfidence = true
	}
	return result
}

// matchIntentFromCorpus scores every corpus entry against the utterance and
// returns the best intent. Pattern hits dominate; synonyms contribute a weak
// score; priority breaks ties.
func matchIntentFromCorpus(input string) (types.Intent, float64) {
	lower := strings.ToLower(input)

	bestScore := 0.0
	bestIntent := types.IntentOther

	for _, entry := range intentCorpus {
		score := 0.0

		patternMatched := false
		for _, pattern := range entry.Patterns {
			if pattern.MatchString(lower) {
				score += 50.0 + float64(entry.Priority)/10.0
				patternMatched = true
				break
			}
		}
		if !patternMatched {
			for _, synonym := range entry.Synonyms {
				if strings.Contains(lower, synonym) {
					score += 20.0 + float64(len(synonym))/2.0 + float64(entry.Priority)/20.0
					break
				}
			}
		}
		if score == 0 {
			continue
		}
		score += float64(entry.Priority) / 50.0

		if score > bestScore {
			bestScore = score
			bestIntent = entry.Intent
		}
	}

	if bestScore == 0 {
		return types.IntentOther, 0.3
	}

	confidence := bestScore / 100.0
	if confidence > 1.0 {
		confidence = 1.0
	}
	if confidence < 0.3 {
		confidence = 0.3
	}
	return bestIntent, confidence
}

// resolveServiceAlias matches catalog service phrases in the utterance and
// fills subcategory_id (and category_id) when absent. Longest phrase wins so
// "washing machine repair" beats "repair".
func (c *Classifier) resolveServiceAlias(ctx context.Context, lower string, entities map[string]any) {
	if c.catalog == nil {
		return
	}
	if _, ok := entities[types.EntitySubcategoryID]; ok {
		return
	}

	index := c.aliases(ctx)
	var best *aliasEntry
	for i := range index {
		if !containsPhrase(lower, index[i].phrase) {
			continue
		}
		if best == nil || len(index[i].phrase) > len(best.phrase) {
			best = &index[i]
		}
	}
	if best == nil {
		return
	}

	entities[types.EntitySubcategoryID] = best.subcategoryID
	if _, ok := entities[types.EntityCategoryID]; !ok {
		entities[types.EntityCategoryID] = best.categoryID
	}
	logging.PerceptionDebug("alias: %q -> subcategory %d", best.phrase, best.subcategoryID)
}

// aliases returns the alias index, rebuilding it from the catalog at most
// every aliasRefreshInterval. A catalog failure keeps the previous index.
func (c *Classifier) aliases(ctx context.Context) []aliasEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.aliasIndex != nil && c.now().Sub(c.aliasAt) < aliasRefreshInterval {
		return c.aliasIndex
	}

	subs, err := c.catalog.AllSubcategories(ctx)
	if err != nil {
		logging.Perception("alias index refresh failed, keeping stale index: %v", err)
		return c.aliasIndex
	}

	index := make([]aliasEntry, 0, len(subs)*2)
	for _, sc := range subs {
		if !sc.Active {
			continue
		}
		index = append(index, aliasEntry{
			phrase:        strings.ToLower(sc.Name),
			subcategoryID: sc.ID,
			categoryID:    sc.CategoryID,
		})
		for _, alias := range sc.Aliases {
			index = append(index, aliasEntry{
				phrase:        strings.ToLower(alias),
				subcategoryID: sc.ID,
				categoryID:    sc.CategoryID,
			})
		}
	}

	c.aliasIndex = index
	c.aliasAt = c.now()
	logging.PerceptionDebug("alias index rebuilt: %d phrases", len(index))
	return c.aliasIndex
}

// containsPhrase reports whether phrase occurs in lower at word boundaries.
func containsPhrase(lower, phrase string) bool {
	start := 0
	for {
		idx := strings.Index(lower[start:], phrase)
		if idx < 0 {
			return false
		}
		idx += start
		end := idx + len(phrase)
		leftOK := idx == 0 || !isWordChar(lower[idx-1])
		rightOK := end == len(lower) || !isWordChar(lower[end])
		if leftOK && rightOK {
			return true
		}
		start = idx + 1
	}
}

func isWordChar(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}

// =============================================================================
// LLM ASSIST
// =============================================================================

const classifySystemPrompt = `You classify utterances sent to a home-services customer support assistant.
Reply with a single JSON object and nothing else:
{"intent": "<label>", "confidence": <number between 0 and 1>}
Valid labels: greeting, booking, reschedule, cancellation, complaint, service_inquiry, policy_inquiry, price_inquiry, status_inquiry, other.`

type llmVerdict struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

// llmAssist asks the LLM for a verdict on an utterance the corpus could not
// place. A malformed or unknown verdict is discarded.
func (c *Classifier) llmAssist(ctx context.Context, text string) (types.Intent, float64, bool) {
	ctx, cancel := context.WithTimeout(ctx, llmAssistTimeout)
	defer cancel()

	raw, err := c.llm.CompleteWithSystem(ctx, classifySystemPrompt, text)
	if err != nil {
		logging.PerceptionDebug("llm assist unavailable: %v", err)
		return types.IntentOther, 0, false
	}

	obj := extractJSONObject(raw)
	if obj == "" {
		return types.IntentOther, 0, false
	}
	var verdict llmVerdict
	if err := json.Unmarshal([]byte(obj), &verdict); err != nil {
		logging.PerceptionDebug("llm assist verdict unparseable: %v", err)
		return types.IntentOther, 0, false
	}

	intent, known := types.ParseIntent(strings.TrimSpace(verdict.Intent))
	if !known || verdict.Confidence < 0 || verdict.Confidence > 1 {
		return types.IntentOther, 0, false
	}
	return intent, verdict.Confidence, true
}

// extractJSONObject pulls the first balanced {...} out of text, tolerating
// code fences and prose around it.
func extractJSONObject(text string) string {
	start := strings.Index(text, "{")
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

func snippet(s string) string {
	if len(s) <= 60 {
		return s
	}
	return fmt.Sprintf("%s...", s[:57])
}
