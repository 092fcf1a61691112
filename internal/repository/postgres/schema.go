package postgres

import (
	"context"
	"fmt"
)

// schema is applied by `opctl migrate`. Statements are idempotent so
// re-running a migration on an existing database is safe.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS system_module (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		latest_version TEXT,
		state TEXT NOT NULL DEFAULT 'installed'
	)`,

	`CREATE TABLE IF NOT EXISTS location (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		parent_id BIGINT REFERENCES location(id),
		warehouse_id BIGINT NOT NULL,
		replenish BOOLEAN NOT NULL DEFAULT TRUE
	)`,

	`CREATE TABLE IF NOT EXISTS product (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		uom_rounding NUMERIC NOT NULL DEFAULT 0.01,
		responsible_id BIGINT NOT NULL DEFAULT 0
	)`,

	`CREATE TABLE IF NOT EXISTS product_route (
		product_id BIGINT NOT NULL REFERENCES product(id) ON DELETE CASCADE,
		route_id BIGINT NOT NULL,
		PRIMARY KEY (product_id, route_id)
	)`,

	`CREATE TABLE IF NOT EXISTS warehouse_route (
		warehouse_id BIGINT NOT NULL,
		route_id BIGINT NOT NULL,
		PRIMARY KEY (warehouse_id, route_id)
	)`,

	`CREATE TABLE IF NOT EXISTS supplier_info (
		id BIGSERIAL PRIMARY KEY,
		product_id BIGINT NOT NULL REFERENCES product(id) ON DELETE CASCADE,
		delay_days INT NOT NULL DEFAULT 0
	)`,

	`CREATE TABLE IF NOT EXISTS route_rule (
		id BIGSERIAL PRIMARY KEY,
		action TEXT NOT NULL,
		source_location_id BIGINT REFERENCES location(id),
		dest_location_id BIGINT NOT NULL REFERENCES location(id),
		route_id BIGINT NOT NULL,
		route_sequence INT NOT NULL DEFAULT 10,
		lead_days INT NOT NULL DEFAULT 0,
		group_propagation TEXT NOT NULL DEFAULT 'propagate',
		warehouse_id BIGINT,
		company_id BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS route_rule_dest_idx ON route_rule (dest_location_id)`,

	`CREATE TABLE IF NOT EXISTS orderpoint (
		id BIGSERIAL PRIMARY KEY,
		product_id BIGINT NOT NULL REFERENCES product(id),
		location_id BIGINT NOT NULL REFERENCES location(id),
		warehouse_id BIGINT NOT NULL,
		company_id BIGINT NOT NULL,
		"trigger" TEXT NOT NULL DEFAULT 'auto',
		origin TEXT NOT NULL DEFAULT 'operator',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		snoozed_until DATE,
		product_min_qty NUMERIC NOT NULL DEFAULT 0,
		product_max_qty NUMERIC NOT NULL DEFAULT 0,
		qty_multiple NUMERIC NOT NULL DEFAULT 0,
		visibility_days INT NOT NULL DEFAULT 0,
		days_to_order INT NOT NULL DEFAULT 0,
		route_id BIGINT,
		qty_to_order_manual NUMERIC NOT NULL DEFAULT 0,
		qty_to_order_computed NUMERIC NOT NULL DEFAULT 0,
		group_id BIGINT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT orderpoint_min_max CHECK (product_min_qty >= 0 AND product_max_qty >= product_min_qty),
		CONSTRAINT orderpoint_multiple CHECK (qty_multiple >= 0)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS orderpoint_unique_active
		ON orderpoint (product_id, location_id, company_id) WHERE active`,

	`CREATE TABLE IF NOT EXISTS stock_quant (
		id BIGSERIAL PRIMARY KEY,
		product_id BIGINT NOT NULL REFERENCES product(id),
		location_id BIGINT NOT NULL REFERENCES location(id),
		quantity NUMERIC NOT NULL DEFAULT 0,
		UNIQUE (product_id, location_id)
	)`,

	`CREATE TABLE IF NOT EXISTS stock_move (
		id BIGSERIAL PRIMARY KEY,
		product_id BIGINT NOT NULL REFERENCES product(id),
		source_location_id BIGINT REFERENCES location(id),
		dest_location_id BIGINT REFERENCES location(id),
		quantity NUMERIC NOT NULL,
		date_planned TIMESTAMPTZ NOT NULL,
		state TEXT NOT NULL DEFAULT 'confirmed',
		orderpoint_id BIGINT REFERENCES orderpoint(id) ON DELETE SET NULL
	)`,
	`CREATE INDEX IF NOT EXISTS stock_move_product_idx ON stock_move (product_id, date_planned)`,

	`CREATE TABLE IF NOT EXISTS supply_order (
		id BIGSERIAL PRIMARY KEY,
		kind TEXT NOT NULL,
		reference TEXT NOT NULL,
		product_id BIGINT NOT NULL REFERENCES product(id),
		quantity NUMERIC NOT NULL,
		source_location_id BIGINT,
		dest_location_id BIGINT NOT NULL,
		company_id BIGINT NOT NULL,
		group_id BIGINT,
		planned_date TIMESTAMPTZ NOT NULL,
		origin TEXT NOT NULL DEFAULT '',
		orderpoint_id BIGINT REFERENCES orderpoint(id) ON DELETE SET NULL,
		state TEXT NOT NULL DEFAULT 'draft',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS supply_order_orderpoint_idx ON supply_order (orderpoint_id) WHERE state = 'draft'`,

	`CREATE TABLE IF NOT EXISTS activity (
		id BIGSERIAL PRIMARY KEY,
		res_model TEXT NOT NULL,
		res_id BIGINT NOT NULL,
		user_id BIGINT NOT NULL,
		kind TEXT NOT NULL DEFAULT 'warning',
		summary TEXT NOT NULL DEFAULT '',
		note TEXT NOT NULL DEFAULT '',
		done BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS activity_res_idx ON activity (res_model, res_id)`,

	`CREATE TABLE IF NOT EXISTS cron_job (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		action TEXT NOT NULL,
		user_id BIGINT NOT NULL DEFAULT 0,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		interval_number INT NOT NULL DEFAULT 1 CHECK (interval_number >= 1),
		interval_type TEXT NOT NULL DEFAULT 'hours',
		nextcall TIMESTAMPTZ NOT NULL,
		lastcall TIMESTAMPTZ,
		failure_count INT NOT NULL DEFAULT 0,
		first_failure_date TIMESTAMPTZ,
		mean_duration DOUBLE PRECISION NOT NULL DEFAULT 0,
		variance_duration DOUBLE PRECISION NOT NULL DEFAULT 0,
		total_duration DOUBLE PRECISION NOT NULL DEFAULT 0,
		total_count BIGINT NOT NULL DEFAULT 0,
		total_failure_count BIGINT NOT NULL DEFAULT 0,
		last_duration DOUBLE PRECISION NOT NULL DEFAULT 0,
		has_progress BOOLEAN NOT NULL DEFAULT FALSE,
		first_date TIMESTAMPTZ,
		stat_date TIMESTAMPTZ
	)`,

	`CREATE TABLE IF NOT EXISTS cron_trigger (
		id BIGSERIAL PRIMARY KEY,
		cron_id BIGINT NOT NULL REFERENCES cron_job(id) ON DELETE CASCADE,
		call_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS cron_trigger_call_at_idx ON cron_trigger (call_at)`,
	`CREATE INDEX IF NOT EXISTS cron_trigger_cron_idx ON cron_trigger (cron_id)`,

	`CREATE TABLE IF NOT EXISTS cron_progress (
		id BIGSERIAL PRIMARY KEY,
		cron_id BIGINT NOT NULL REFERENCES cron_job(id) ON DELETE CASCADE,
		create_date TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		done BIGINT NOT NULL DEFAULT 0,
		remaining BIGINT NOT NULL DEFAULT 0,
		deactivate BOOLEAN NOT NULL DEFAULT FALSE,
		timed_out_counter INT NOT NULL DEFAULT 0,
		duration DOUBLE PRECISION NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS cron_progress_latest_idx ON cron_progress (cron_id, id DESC)`,

	`INSERT INTO system_module (name, latest_version) VALUES ('base', '1.0')
		ON CONFLICT (name) DO NOTHING`,
}

// Migrate applies the schema to the connected database.
func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	return nil
}
