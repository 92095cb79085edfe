// SPDX-License-Identifier: MIT

package store

const schema = `
CREATE TABLE IF NOT EXISTS sources (
	id                   INTEGER PRIMARY KEY AUTOINCREMENT,
	name                 TEXT    NOT NULL,
	kind                 TEXT    NOT NULL,
	urls                 TEXT    NOT NULL DEFAULT '[]',
	file_path            TEXT    NOT NULL DEFAULT '',
	username             TEXT    NOT NULL DEFAULT '',
	password             TEXT    NOT NULL DEFAULT '',
	user_agent           TEXT    NOT NULL DEFAULT '',
	refresh_hours        INTEGER NOT NULL DEFAULT 24,
	enabled              INTEGER NOT NULL DEFAULT 1,
	stale_retention_days INTEGER NOT NULL DEFAULT 7,
	status               TEXT    NOT NULL DEFAULT 'idle',
	last_message         TEXT    NOT NULL DEFAULT '',
	custom_properties    TEXT    NOT NULL DEFAULT '{}',
	updated_at           INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS groups (
	id   INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS group_memberships (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	source_id         INTEGER NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
	group_id          INTEGER NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
	enabled           INTEGER NOT NULL DEFAULT 1,
	custom_properties TEXT    NOT NULL DEFAULT '{}',
	UNIQUE (source_id, group_id)
);

CREATE TABLE IF NOT EXISTS streams (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	stream_hash       TEXT    NOT NULL UNIQUE,
	name              TEXT    NOT NULL DEFAULT '',
	url               TEXT    NOT NULL DEFAULT '',
	logo_url          TEXT    NOT NULL DEFAULT '',
	tvg_id            TEXT    NOT NULL DEFAULT '',
	source_id         INTEGER NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
	group_id          INTEGER REFERENCES groups(id) ON DELETE SET NULL,
	custom_properties TEXT    NOT NULL DEFAULT '{}',
	last_seen         INTEGER NOT NULL DEFAULT 0,
	updated_at        INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_streams_source ON streams(source_id);
CREATE INDEX IF NOT EXISTS idx_streams_source_group ON streams(source_id, group_id);

CREATE TABLE IF NOT EXISTS channels (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	uuid              TEXT    NOT NULL UNIQUE,
	number            REAL    NOT NULL DEFAULT 0,
	name              TEXT    NOT NULL DEFAULT '',
	tvg_id            TEXT    NOT NULL DEFAULT '',
	guide_station_id  TEXT    NOT NULL DEFAULT '',
	logo_id           INTEGER REFERENCES logos(id) ON DELETE SET NULL,
	epg_data_id       INTEGER REFERENCES epg_data(id) ON DELETE SET NULL,
	group_id          INTEGER REFERENCES groups(id) ON DELETE SET NULL,
	stream_profile_id INTEGER REFERENCES stream_profiles(id) ON DELETE SET NULL,
	auto_created      INTEGER NOT NULL DEFAULT 0,
	auto_created_by   INTEGER REFERENCES sources(id) ON DELETE SET NULL
);
CREATE INDEX IF NOT EXISTS idx_channels_auto_created_by ON channels(auto_created_by);

CREATE TABLE IF NOT EXISTS channel_streams (
	channel_id INTEGER NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
	stream_id  INTEGER NOT NULL REFERENCES streams(id) ON DELETE CASCADE,
	ord        INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (channel_id, stream_id)
);
CREATE INDEX IF NOT EXISTS idx_channel_streams_stream ON channel_streams(stream_id);

CREATE TABLE IF NOT EXISTS channel_profiles (
	id   INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS channel_profile_memberships (
	profile_id INTEGER NOT NULL REFERENCES channel_profiles(id) ON DELETE CASCADE,
	channel_id INTEGER NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
	enabled    INTEGER NOT NULL DEFAULT 1,
	PRIMARY KEY (profile_id, channel_id)
);

CREATE TABLE IF NOT EXISTS stream_profiles (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	name            TEXT NOT NULL,
	search_pattern  TEXT NOT NULL DEFAULT '',
	replace_pattern TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS epg_data (
	id     INTEGER PRIMARY KEY AUTOINCREMENT,
	tvg_id TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_epg_data_tvg ON epg_data(tvg_id);

CREATE TABLE IF NOT EXISTS logos (
	id  INTEGER PRIMARY KEY AUTOINCREMENT,
	url TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS filters (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	source_id      INTEGER NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
	type           TEXT    NOT NULL,
	pattern        TEXT    NOT NULL,
	exclude        INTEGER NOT NULL DEFAULT 0,
	case_sensitive INTEGER NOT NULL DEFAULT 0,
	ord            INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`
