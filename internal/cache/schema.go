package cache

// migration holds a single schema migration with its target version and SQL
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations, starting at version 1
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS accounts (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    email TEXT NOT NULL,
    host TEXT NOT NULL,
    port INTEGER NOT NULL DEFAULT 993,
    tls INTEGER NOT NULL DEFAULT 1,
    display_name TEXT NOT NULL DEFAULT '',
    is_active INTEGER NOT NULL DEFAULT 1,
    last_sync DATETIME,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS emails (
    id TEXT PRIMARY KEY,
    account_id TEXT NOT NULL,
    mailbox TEXT NOT NULL DEFAULT 'INBOX',
    message_id TEXT NOT NULL,
    message_id_synthesized INTEGER NOT NULL DEFAULT 0,
    uid INTEGER NOT NULL DEFAULT 0,
    from_addr TEXT NOT NULL DEFAULT '',
    to_addr TEXT NOT NULL DEFAULT '',
    subject TEXT NOT NULL DEFAULT '',
    date DATETIME NOT NULL,
    body_text TEXT NOT NULL DEFAULT '',
    body_html TEXT NOT NULL DEFAULT '',
    attachments TEXT NOT NULL DEFAULT '[]',
    category TEXT NOT NULL DEFAULT 'unknown',
    trust_score REAL NOT NULL DEFAULT 50,
    sentiment_score REAL NOT NULL DEFAULT 0,
    urgency_score REAL NOT NULL DEFAULT 0,
    professionalism_score REAL NOT NULL DEFAULT 5,
    customer_score REAL NOT NULL DEFAULT 0,
    spam_indicators TEXT NOT NULL DEFAULT '[]',
    phishing_indicators TEXT NOT NULL DEFAULT '[]',
    key_phrases TEXT NOT NULL DEFAULT '[]',
    rule_set_version TEXT NOT NULL DEFAULT '',
    is_analyzed INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL,
    FOREIGN KEY (account_id) REFERENCES accounts(id) ON DELETE CASCADE,
    UNIQUE(account_id, message_id)
);

CREATE INDEX IF NOT EXISTS idx_emails_account_date ON emails(account_id, date);
CREATE INDEX IF NOT EXISTS idx_emails_account_category ON emails(account_id, category);
CREATE INDEX IF NOT EXISTS idx_emails_account_trust ON emails(account_id, trust_score);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE VIRTUAL TABLE IF NOT EXISTS emails_fts USING fts5(
    subject,
    from_addr,
    body_text,
    content='emails',
    content_rowid='rowid'
);

CREATE TRIGGER IF NOT EXISTS emails_fts_insert AFTER INSERT ON emails BEGIN
    INSERT INTO emails_fts(rowid, subject, from_addr, body_text)
    VALUES (new.rowid, new.subject, new.from_addr, new.body_text);
END;

CREATE TRIGGER IF NOT EXISTS emails_fts_delete AFTER DELETE ON emails BEGIN
    INSERT INTO emails_fts(emails_fts, rowid, subject, from_addr, body_text)
    VALUES ('delete', old.rowid, old.subject, old.from_addr, old.body_text);
END;

CREATE TRIGGER IF NOT EXISTS emails_fts_update AFTER UPDATE OF subject, from_addr, body_text ON emails BEGIN
    INSERT INTO emails_fts(emails_fts, rowid, subject, from_addr, body_text)
    VALUES ('delete', old.rowid, old.subject, old.from_addr, old.body_text);
    INSERT INTO emails_fts(rowid, subject, from_addr, body_text)
    VALUES (new.rowid, new.subject, new.from_addr, new.body_text);
END;

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
