package store

// =============================================================================
// SCHEMA
// =============================================================================
//
// All timestamps are stored as fixed-width UTC text (see sqliteTimeLayout).
// Money is stored as decimal text, never floats.

const schemaSessions = `
CREATE TABLE IF NOT EXISTS sessions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL UNIQUE,
	user_ref INTEGER NOT NULL,
	channel TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'open',
	created_at TEXT NOT NULL,
	last_activity_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_ref, last_activity_at);
CREATE INDEX IF NOT EXISTS idx_sessions_idle ON sessions(status, last_activity_at);

CREATE TABLE IF NOT EXISTS conversation_messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	role TEXT NOT NULL,
	text TEXT NOT NULL,
	intent TEXT,
	intent_confidence REAL,
	agent_trace TEXT,
	retrieval_provenance TEXT,
	grounding_score REAL,
	latency_ms INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON conversation_messages(session_id, created_at, id);

CREATE TABLE IF NOT EXISTS workflow_states (
	session_id TEXT PRIMARY KEY,
	state_json TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
`

const schemaBookings = `
CREATE TABLE IF NOT EXISTS bookings (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	order_id TEXT NOT NULL UNIQUE,
	booking_number TEXT NOT NULL UNIQUE,
	user_ref INTEGER NOT NULL,
	address_ref INTEGER NOT NULL,
	subtotal TEXT NOT NULL,
	total TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	payment_status TEXT NOT NULL DEFAULT 'unpaid',
	preferred_date TEXT NOT NULL,
	preferred_time TEXT NOT NULL,
	special_instructions TEXT,
	cancelled_at TEXT,
	cancellation_reason TEXT,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_bookings_user ON bookings(user_ref, created_at);
CREATE INDEX IF NOT EXISTS idx_bookings_status ON bookings(status, created_at);

CREATE TABLE IF NOT EXISTS booking_items (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	booking_id INTEGER NOT NULL,
	rate_card_id INTEGER NOT NULL,
	provider_ref INTEGER,
	address_ref INTEGER NOT NULL,
	service_name TEXT NOT NULL,
	quantity INTEGER NOT NULL DEFAULT 1,
	unit_price TEXT NOT NULL,
	total_amount TEXT NOT NULL,
	final_amount TEXT NOT NULL,
	scheduled_date TEXT NOT NULL,
	scheduled_window_from TEXT NOT NULL,
	scheduled_window_to TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	payment_status TEXT NOT NULL DEFAULT 'unpaid'
);
CREATE INDEX IF NOT EXISTS idx_booking_items_booking ON booking_items(booking_id);
`

const schemaComplaints = `
CREATE TABLE IF NOT EXISTS complaints (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ticket_number TEXT NOT NULL UNIQUE,
	user_ref INTEGER NOT NULL,
	booking_ref INTEGER,
	session_ref TEXT,
	type TEXT NOT NULL,
	subject TEXT NOT NULL,
	description TEXT NOT NULL,
	priority TEXT NOT NULL,
	sentiment_score REAL NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'open',
	assigned_staff INTEGER,
	resolution TEXT,
	response_due_at TEXT NOT NULL,
	resolution_due_at TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_complaints_status ON complaints(status, created_at);
CREATE INDEX IF NOT EXISTS idx_complaints_user ON complaints(user_ref, created_at);
CREATE INDEX IF NOT EXISTS idx_complaints_due ON complaints(response_due_at);

CREATE TABLE IF NOT EXISTS complaint_updates (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	complaint_id INTEGER NOT NULL,
	staff_ref INTEGER,
	note TEXT NOT NULL,
	status_after TEXT,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_complaint_updates ON complaint_updates(complaint_id, created_at);
`

const schemaAlerts = `
CREATE TABLE IF NOT EXISTS alerts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	type TEXT NOT NULL,
	severity TEXT NOT NULL,
	title TEXT NOT NULL,
	message TEXT NOT NULL,
	resource_kind TEXT NOT NULL,
	resource_id INTEGER NOT NULL,
	staff_ref INTEGER,
	is_read INTEGER NOT NULL DEFAULT 0,
	is_dismissed INTEGER NOT NULL DEFAULT 0,
	metadata TEXT,
	created_at TEXT NOT NULL,
	read_at TEXT,
	dismissed_at TEXT,
	expires_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_alerts_dedup ON alerts(type, resource_kind, resource_id, created_at);
CREATE INDEX IF NOT EXISTS idx_alerts_staff ON alerts(staff_ref, is_read, created_at);

CREATE TABLE IF NOT EXISTS alert_rules (
	name TEXT PRIMARY KEY,
	interval_sec INTEGER NOT NULL,
	dedup_hours INTEGER NOT NULL,
	severity TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS alert_subscriptions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	staff_ref INTEGER NOT NULL,
	alert_type TEXT NOT NULL,
	created_at TEXT NOT NULL,
	UNIQUE(staff_ref, alert_type)
);
`

const schemaAudit = `
CREATE TABLE IF NOT EXISTS ops_audit_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	staff_ref INTEGER,
	action TEXT NOT NULL,
	resource TEXT NOT NULL,
	resource_id INTEGER NOT NULL DEFAULT 0,
	pii_accessed INTEGER NOT NULL DEFAULT 0,
	detail TEXT,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_created ON ops_audit_log(created_at);
`

const schemaCatalog = `
CREATE TABLE IF NOT EXISTS categories (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	description TEXT,
	active INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS subcategories (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	category_id INTEGER NOT NULL,
	name TEXT NOT NULL,
	description TEXT,
	default_duration_minutes INTEGER NOT NULL DEFAULT 60,
	active INTEGER NOT NULL DEFAULT 1,
	aliases TEXT
);
CREATE INDEX IF NOT EXISTS idx_subcategories_category ON subcategories(category_id);

CREATE TABLE IF NOT EXISTS rate_cards (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	subcategory_id INTEGER NOT NULL,
	provider_id INTEGER,
	name TEXT NOT NULL,
	price TEXT NOT NULL,
	strike_price TEXT,
	active INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_rate_cards_subcategory ON rate_cards(subcategory_id);

CREATE TABLE IF NOT EXISTS providers (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	active INTEGER NOT NULL DEFAULT 1,
	verified INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS provider_coverage (
	provider_id INTEGER NOT NULL,
	subcategory_id INTEGER NOT NULL,
	pincode TEXT NOT NULL,
	PRIMARY KEY (provider_id, subcategory_id, pincode)
);
CREATE INDEX IF NOT EXISTS idx_coverage_lookup ON provider_coverage(subcategory_id, pincode);

CREATE TABLE IF NOT EXISTS addresses (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_ref INTEGER NOT NULL,
	label TEXT NOT NULL DEFAULT '',
	line1 TEXT NOT NULL,
	city TEXT NOT NULL,
	pincode TEXT NOT NULL,
	is_default INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_addresses_user ON addresses(user_ref);
`

// policy_chunks is the source of truth for chunk text and embeddings; the
// vec_chunks virtual table (created lazily when sqlite-vec is present)
// mirrors embeddings keyed by policy_chunks.rowid.
const schemaChunks = `
CREATE TABLE IF NOT EXISTS policy_chunks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	chunk_id TEXT NOT NULL,
	namespace TEXT NOT NULL,
	text TEXT NOT NULL,
	metadata TEXT,
	embedding BLOB NOT NULL,
	dims INTEGER NOT NULL,
	created_at TEXT NOT NULL,
	UNIQUE(namespace, chunk_id)
);
CREATE INDEX IF NOT EXISTS idx_chunks_namespace ON policy_chunks(namespace);
`
