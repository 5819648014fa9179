package store

const schema = `
CREATE TABLE IF NOT EXISTS corpus_meta (
    source     TEXT PRIMARY KEY,
    etag       TEXT NOT NULL DEFAULT '',
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS corpus_items (
    source   TEXT NOT NULL,
    item_id  TEXT NOT NULL,
    position INTEGER NOT NULL,
    payload  TEXT NOT NULL,
    PRIMARY KEY (source, item_id)
);

CREATE INDEX IF NOT EXISTS idx_corpus_items_position ON corpus_items(source, position);

CREATE TABLE IF NOT EXISTS snapshots (
    day        TEXT NOT NULL,
    item_id    TEXT NOT NULL,
    metrics    TEXT NOT NULL DEFAULT '{}',
    updated_at TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (day, item_id)
);

CREATE TABLE IF NOT EXISTS hotlists (
    name       TEXT PRIMARY KEY,
    version    INTEGER NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS hotlist_entries (
    hotlist  TEXT NOT NULL,
    task_key TEXT NOT NULL,
    position INTEGER NOT NULL,
    entry_id TEXT NOT NULL,
    kind     TEXT NOT NULL,
    payload  TEXT NOT NULL,
    added_at TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (hotlist, task_key, position)
);

CREATE INDEX IF NOT EXISTS idx_hotlist_entries_entry ON hotlist_entries(hotlist, entry_id);

CREATE TABLE IF NOT EXISTS daily_selections (
    day          TEXT PRIMARY KEY,
    run_id       TEXT NOT NULL DEFAULT '',
    generated_at TEXT NOT NULL,
    payload      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
    id          TEXT PRIMARY KEY,
    command     TEXT NOT NULL,
    started_at  TEXT NOT NULL,
    finished_at TEXT NOT NULL DEFAULT '',
    status      TEXT NOT NULL DEFAULT '',
    detail      TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
`
