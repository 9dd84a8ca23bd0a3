package store

var schemaStatements = []string{
	`PRAGMA journal_mode=WAL;`,
	`PRAGMA synchronous=NORMAL;`,
	`PRAGMA foreign_keys=ON;`,
	`PRAGMA busy_timeout=5000;`,
	`PRAGMA temp_store=MEMORY;`,
	`CREATE TABLE IF NOT EXISTS devices (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		device_id TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT '',
		device_type TEXT NOT NULL DEFAULT 'GB28181',
		auth_password TEXT NOT NULL DEFAULT '',
		ip_address TEXT NOT NULL DEFAULT '',
		port INTEGER NOT NULL DEFAULT 0,
		transport TEXT NOT NULL DEFAULT 'udp',
		status TEXT NOT NULL DEFAULT 'unknown',
		expires INTEGER NOT NULL DEFAULT 3600,
		register_at TEXT NULL,
		last_keepalive_at TEXT NULL,
		manufacturer TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT '',
		firmware TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS device_channels (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		device_id TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		manufacturer TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT '',
		owner TEXT NOT NULL DEFAULT '',
		civil_code TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL DEFAULT '',
		parental INTEGER NOT NULL DEFAULT 0,
		parent_id TEXT NOT NULL DEFAULT '',
		safety_way INTEGER NOT NULL DEFAULT 0,
		register_way INTEGER NOT NULL DEFAULT 1,
		secrecy INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT '',
		longitude REAL NULL,
		latitude REAL NULL,
		ptz_type INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL,
		UNIQUE(device_id, channel_id)
	);`,
	`CREATE TABLE IF NOT EXISTS stream_sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL UNIQUE,
		device_id TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		stream_type TEXT NOT NULL DEFAULT 'LIVE',
		app TEXT NOT NULL DEFAULT 'rtp',
		stream TEXT NOT NULL DEFAULT '',
		ssrc TEXT NOT NULL DEFAULT '',
		media_server_ip TEXT NOT NULL DEFAULT '',
		rtp_port INTEGER NOT NULL DEFAULT 0,
		flv_url TEXT NOT NULL DEFAULT '',
		hls_url TEXT NOT NULL DEFAULT '',
		rtmp_url TEXT NOT NULL DEFAULT '',
		rtsp_url TEXT NOT NULL DEFAULT '',
		webrtc_url TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'ACTIVE',
		call_id TEXT NOT NULL DEFAULT '',
		from_tag TEXT NOT NULL DEFAULT '',
		to_tag TEXT NOT NULL DEFAULT '',
		start_at TEXT NOT NULL,
		end_at TEXT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_device_channels_device ON device_channels(device_id);`,
	`CREATE INDEX IF NOT EXISTS idx_stream_sessions_call ON stream_sessions(call_id);`,
	`CREATE INDEX IF NOT EXISTS idx_stream_sessions_status ON stream_sessions(status);`,
}
