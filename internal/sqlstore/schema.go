package sqlstore

// Schema contains SQL schema definitions for the property store
const Schema = `
-- Message stores
CREATE TABLE IF NOT EXISTS stores (
    id BLOB PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    root_id BLOB NOT NULL,
    receive_folder BLOB,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Every addressable object: the store object itself, folders and messages
CREATE TABLE IF NOT EXISTS entries (
    id BLOB PRIMARY KEY,
    store_id BLOB NOT NULL,
    parent_id BLOB,
    kind INTEGER NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (store_id) REFERENCES stores(id) ON DELETE CASCADE,
    FOREIGN KEY (parent_id) REFERENCES entries(id) ON DELETE CASCADE
);

-- Typed raw properties; num mirrors integer payloads for filtering
CREATE TABLE IF NOT EXISTS props (
    entry_id BLOB NOT NULL,
    prop_id INTEGER NOT NULL,
    prop_type INTEGER NOT NULL,
    value BLOB NOT NULL,
    num INTEGER,
    PRIMARY KEY (entry_id, prop_id),
    FOREIGN KEY (entry_id) REFERENCES entries(id) ON DELETE CASCADE
);

-- Named property registry, one id space per store
CREATE TABLE IF NOT EXISTS named_props (
    store_id BLOB NOT NULL,
    prop_id INTEGER NOT NULL,
    propset BLOB NOT NULL,
    kind INTEGER NOT NULL,
    lid INTEGER NOT NULL DEFAULT 0,
    name TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (store_id, prop_id),
    UNIQUE (store_id, propset, kind, lid, name),
    FOREIGN KEY (store_id) REFERENCES stores(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_entries_parent_id ON entries(parent_id, kind);
CREATE INDEX IF NOT EXISTS idx_entries_store_id ON entries(store_id);
CREATE INDEX IF NOT EXISTS idx_props_lookup ON props(prop_id, value);
`
