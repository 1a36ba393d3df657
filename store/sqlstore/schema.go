package sqlstore

// Column types are the common subset of SQLite, PostgreSQL and MySQL:
// VARCHAR keys (MySQL cannot index TEXT), decimals and timestamps as strings.
// Timestamps use timeLayout, which sorts lexicographically.
var tables = []string{
	`CREATE TABLE IF NOT EXISTS stations (
		code VARCHAR(16) PRIMARY KEY,
		name VARCHAR(128) NOT NULL,
		city VARCHAR(128) NOT NULL DEFAULT '',
		state VARCHAR(128) NOT NULL DEFAULT ''
	)`,

	`CREATE TABLE IF NOT EXISTS trains (
		number VARCHAR(16) PRIMARY KEY,
		name VARCHAR(128) NOT NULL,
		train_type VARCHAR(32) NOT NULL DEFAULT '',
		runs_on VARCHAR(32) NOT NULL DEFAULT ''
	)`,

	`CREATE TABLE IF NOT EXISTS train_stops (
		train_number VARCHAR(16) NOT NULL REFERENCES trains(number),
		seq INTEGER NOT NULL,
		station_code VARCHAR(16) NOT NULL,
		arrival VARCHAR(5) NOT NULL DEFAULT '',
		departure VARCHAR(5) NOT NULL DEFAULT '',
		day_offset INTEGER NOT NULL DEFAULT 0,
		distance_km INTEGER NOT NULL DEFAULT 0,
		platform VARCHAR(8) NOT NULL DEFAULT '',
		PRIMARY KEY (train_number, seq)
	)`,

	`CREATE TABLE IF NOT EXISTS train_classes (
		train_number VARCHAR(16) NOT NULL REFERENCES trains(number),
		class_type VARCHAR(4) NOT NULL,
		base_fare VARCHAR(32) NOT NULL,
		total_seats INTEGER NOT NULL,
		rac_capacity INTEGER NOT NULL,
		seats_per_coach INTEGER NOT NULL,
		coach_prefix VARCHAR(8) NOT NULL,
		PRIMARY KEY (train_number, class_type)
	)`,

	`CREATE TABLE IF NOT EXISTS runs (
		train_number VARCHAR(16) NOT NULL,
		service_date VARCHAR(10) NOT NULL,
		departure_at VARCHAR(32) NOT NULL,
		PRIMARY KEY (train_number, service_date)
	)`,

	// One row per (train, date, class): the unit of locking.
	`CREATE TABLE IF NOT EXISTS class_inventory (
		train_number VARCHAR(16) NOT NULL,
		service_date VARCHAR(10) NOT NULL,
		class_type VARCHAR(4) NOT NULL,
		total_seats INTEGER NOT NULL,
		confirmed_count INTEGER NOT NULL DEFAULT 0,
		rac_capacity INTEGER NOT NULL,
		rac_count INTEGER NOT NULL DEFAULT 0,
		waitlist_count INTEGER NOT NULL DEFAULT 0,
		seats_per_coach INTEGER NOT NULL,
		coach_prefix VARCHAR(8) NOT NULL,
		next_queue_seq BIGINT NOT NULL DEFAULT 1,
		version BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (train_number, service_date, class_type)
	)`,

	`CREATE TABLE IF NOT EXISTS bookings (
		pnr VARCHAR(10) PRIMARY KEY,
		train_number VARCHAR(16) NOT NULL,
		service_date VARCHAR(10) NOT NULL,
		class_type VARCHAR(4) NOT NULL,
		total_fare VARCHAR(32) NOT NULL,
		payment_mode VARCHAR(16) NOT NULL,
		concession_type VARCHAR(32) NOT NULL DEFAULT '',
		concession_proof VARCHAR(128) NOT NULL DEFAULT '',
		contact_name VARCHAR(128) NOT NULL DEFAULT '',
		contact_email VARCHAR(128) NOT NULL DEFAULT '',
		contact_phone VARCHAR(32) NOT NULL DEFAULT '',
		contact_address VARCHAR(255) NOT NULL DEFAULT '',
		status VARCHAR(24) NOT NULL,
		cancel_reason VARCHAR(255),
		cancel_charge VARCHAR(32),
		cancel_refund VARCHAR(32),
		cancelled_at VARCHAR(32),
		created_at VARCHAR(32) NOT NULL,
		updated_at VARCHAR(32) NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS passenger_claims (
		id VARCHAR(36) PRIMARY KEY,
		pnr VARCHAR(10) NOT NULL REFERENCES bookings(pnr),
		passenger_seq INTEGER NOT NULL,
		train_number VARCHAR(16) NOT NULL,
		service_date VARCHAR(10) NOT NULL,
		class_type VARCHAR(4) NOT NULL,
		name VARCHAR(128) NOT NULL,
		age INTEGER NOT NULL,
		gender VARCHAR(8) NOT NULL,
		id_proof_type VARCHAR(32) NOT NULL DEFAULT '',
		id_proof_number VARCHAR(64) NOT NULL DEFAULT '',
		concession VARCHAR(32) NOT NULL DEFAULT '',
		fare VARCHAR(32) NOT NULL,
		status VARCHAR(16) NOT NULL,
		seat_number INTEGER NOT NULL DEFAULT 0,
		coach VARCHAR(8) NOT NULL DEFAULT '',
		berth INTEGER NOT NULL DEFAULT 0,
		rac_slot INTEGER NOT NULL DEFAULT 0,
		waitlist_rank INTEGER NOT NULL DEFAULT 0,
		queue_seq BIGINT NOT NULL DEFAULT 0,
		UNIQUE (pnr, passenger_seq)
	)`,

	`CREATE TABLE IF NOT EXISTS outbox_events (
		id VARCHAR(36) PRIMARY KEY,
		event_type VARCHAR(32) NOT NULL,
		pnr VARCHAR(10) NOT NULL,
		payload TEXT NOT NULL,
		created_at VARCHAR(32) NOT NULL,
		published_at VARCHAR(32),
		dead_at VARCHAR(32),
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT
	)`,
}

type index struct {
	name    string
	table   string
	columns string
}

var indexes = []index{
	// Queue heads and occupied seats of one inventory key (hot path of Book and Cancel)
	{"idx_claims_key_status", "passenger_claims", "train_number, service_date, class_type, status, queue_seq"},
	{"idx_bookings_key", "bookings", "train_number, service_date, class_type"},
	{"idx_outbox_pending", "outbox_events", "published_at, dead_at, created_at"},
}

// createIndex returns the statement for ix. MySQL has no CREATE INDEX IF NOT
// EXISTS; Migrate ignores its duplicate-name error instead.
func (d Dialect) createIndex(ix index) string {
	if d == MySQL {
		return "CREATE INDEX " + ix.name + " ON " + ix.table + " (" + ix.columns + ")"
	}
	return "CREATE INDEX IF NOT EXISTS " + ix.name + " ON " + ix.table + " (" + ix.columns + ")"
}
