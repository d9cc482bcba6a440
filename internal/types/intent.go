package types

// =============================================================================
// INTENT TAXONOMY
// =============================================================================

// Intent is the closed set of user-turn intents. Routing is a compile-time
// table keyed on this type; unknown strings parse to IntentOther.
type Intent string

const (
	IntentGreeting       Intent = "greeting"
	IntentBooking        Intent = "booking"
	IntentReschedule     Intent = "reschedule"
	IntentCancellation   Intent = "cancellation"
	IntentComplaint      Intent = "complaint"
	IntentServiceInquiry Intent = "service_inquiry"
	IntentPolicyInquiry  Intent = "policy_inquiry"
	IntentPriceInquiry   Intent = "price_inquiry"
	IntentStatusInquiry  Intent = "status_inquiry"
	IntentOther          Intent = "other"
)

// AllIntents lists every routable intent, in dispatch-table order.
var AllIntents = []Intent{
	IntentGreeting,
	IntentBooking,
	IntentReschedule,
	IntentCancellation,
	IntentComplaint,
	IntentServiceInquiry,
	IntentPolicyInquiry,
	IntentPriceInquiry,
	IntentStatusInquiry,
	IntentOther,
}

// ParseIntent maps a raw label to a known Intent. Unknown labels map to
// IntentOther with ok=false so callers can flag low confidence.
func ParseIntent(s string) (Intent, bool) {
	in := Intent(s)
	for _, known := range AllIntents {
		if in == known {
			return in, true
		}
	}
	return IntentOther, false
}

// ConfidenceFloor is the threshold below which a classification is demoted
// to IntentOther and flagged low-confidence.
const ConfidenceFloor = 0.5

// Entity keys the classifier extracts when present in an utterance.
const (
	EntityCategoryID    = "category_id"
	EntitySubcategoryID = "subcategory_id"
	EntityRateCardID    = "rate_card_id"
	EntityBookingID     = "booking_id"
	EntityPincode       = "pincode"
	EntityDate          = "date"
	EntityTime          = "time"
	EntityQuantity      = "quantity"
	EntityQuery         = "query"
)

// Classification is the result of intent classification for one utterance.
type Classification struct {
	Intent        Intent         `json:"intent"`
	Confidence    float64        `json:"confidence"`
	Entities      map[string]any `json:"entities,omitempty"`
	LowConfidence bool           `json:"low_confidence,omitempty"`
}
