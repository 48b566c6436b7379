package store

// Schema documents the Postgres tables the store package expects to exist
// (applied via an external migration tool, the way the teacher's
// internal/database package assumes a pre-migrated schema). Kept here as the
// single source of truth for column names referenced throughout this
// package.
const Schema = `
CREATE TABLE IF NOT EXISTS user_profiles (
	user_id                      BIGINT PRIMARY KEY,
	vec_e                        DOUBLE PRECISION NOT NULL DEFAULT 0.5,
	vec_i                        DOUBLE PRECISION NOT NULL DEFAULT 0.5,
	vec_s                        DOUBLE PRECISION NOT NULL DEFAULT 0.5,
	vec_n                        DOUBLE PRECISION NOT NULL DEFAULT 0.5,
	vec_t                        DOUBLE PRECISION NOT NULL DEFAULT 0.5,
	vec_f                        DOUBLE PRECISION NOT NULL DEFAULT 0.5,
	vec_j                        DOUBLE PRECISION NOT NULL DEFAULT 0.5,
	vec_p                        DOUBLE PRECISION NOT NULL DEFAULT 0.5,
	type_label                   TEXT,
	total_behaviors_analyzed     BIGINT NOT NULL DEFAULT 0,
	behaviors_since_last_update  BIGINT NOT NULL DEFAULT 0,
	current_recommendation_page  INT NOT NULL DEFAULT 0,
	last_recommendation_time     TIMESTAMPTZ,
	last_updated                 TIMESTAMPTZ,
	created_at                   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS content_vectors (
	content_id     BIGINT PRIMARY KEY,
	vec_e          DOUBLE PRECISION NOT NULL DEFAULT 0.5,
	vec_i          DOUBLE PRECISION NOT NULL DEFAULT 0.5,
	vec_s          DOUBLE PRECISION NOT NULL DEFAULT 0.5,
	vec_n          DOUBLE PRECISION NOT NULL DEFAULT 0.5,
	vec_t          DOUBLE PRECISION NOT NULL DEFAULT 0.5,
	vec_f          DOUBLE PRECISION NOT NULL DEFAULT 0.5,
	vec_j          DOUBLE PRECISION NOT NULL DEFAULT 0.5,
	vec_p          DOUBLE PRECISION NOT NULL DEFAULT 0.5,
	type_label     TEXT,
	title          TEXT,
	cover_image    TEXT,
	author         TEXT,
	publish_time   TIMESTAMPTZ,
	content_type   TEXT,
	scoring_method TEXT NOT NULL DEFAULT '',
	scoring_failed BOOLEAN NOT NULL DEFAULT false,
	toucher_count  BIGINT NOT NULL DEFAULT 0,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS behavior_events (
	id          BIGSERIAL PRIMARY KEY,
	user_id     BIGINT NOT NULL,
	content_id  BIGINT NOT NULL,
	action      TEXT NOT NULL,
	weight      DOUBLE PRECISION NOT NULL,
	source      TEXT,
	session_id  TEXT,
	extra       JSONB,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_behavior_events_user_created
	ON behavior_events (user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS recommendation_logs (
	id                     BIGSERIAL PRIMARY KEY,
	user_id                BIGINT NOT NULL,
	content_ids            BIGINT[] NOT NULL,
	similarities           DOUBLE PRECISION[] NOT NULL,
	param_limit            INT NOT NULL,
	param_threshold        DOUBLE PRECISION NOT NULL,
	content_type_filter    TEXT,
	total_candidates       INT NOT NULL,
	average_similarity     DOUBLE PRECISION NOT NULL,
	user_vector_snapshot   JSONB,
	created_at             TIMESTAMPTZ NOT NULL DEFAULT now()
);
`
