package store

const initSchemaSQL = `
CREATE TABLE IF NOT EXISTS flights (
    sha256      TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    firmware    TEXT NOT NULL,
    size_bytes  INTEGER NOT NULL,
    row_count   INTEGER NOT NULL,
    duration_s  REAL NOT NULL,
    summary     TEXT NOT NULL,
    rows_json   BLOB NOT NULL,
    decoded_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS mode_segments (
    flight_sha  TEXT NOT NULL REFERENCES flights(sha256) ON DELETE CASCADE,
    seq         INTEGER NOT NULL,
    start_s     REAL NOT NULL,
    end_s       REAL NOT NULL,
    mode        TEXT NOT NULL,
    PRIMARY KEY (flight_sha, seq)
);

CREATE INDEX IF NOT EXISTS idx_flights_decoded_at ON flights(decoded_at);
`

const upsertFlightSQL = `
INSERT INTO flights (sha256, name, firmware, size_bytes, row_count, duration_s, summary, rows_json)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(sha256) DO UPDATE SET
    name = excluded.name,
    firmware = excluded.firmware,
    size_bytes = excluded.size_bytes,
    row_count = excluded.row_count,
    duration_s = excluded.duration_s,
    summary = excluded.summary,
    rows_json = excluded.rows_json,
    decoded_at = CURRENT_TIMESTAMP
`

const deleteSegmentsSQL = `DELETE FROM mode_segments WHERE flight_sha = ?`

const insertSegmentSQL = `
INSERT INTO mode_segments (flight_sha, seq, start_s, end_s, mode)
VALUES (?, ?, ?, ?, ?)
`

const selectFlightSQL = `
SELECT summary, rows_json FROM flights WHERE sha256 = ?
`

const listFlightsSQL = `
SELECT summary FROM flights ORDER BY decoded_at ASC
`
