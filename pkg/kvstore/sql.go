package kvstore

import (
	"crypto/sha256"
	"database/sql"
	"fmt"
	"sort"

	_ "github.com/mattn/go-sqlite3"

	"github.com/brianh20/many-go/pkg/identity"
)

// schemaVersion is bumped whenever sqlSchema changes shape; SQLiteBackend
// refuses to open a database stamped with any other version,
// mirroring the teacher's pkg/database schema-versioning guard.
const schemaVersion = 1

const sqlSchema = `
CREATE TABLE IF NOT EXISTS kvstore_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS kvstore_entries (
	key   BLOB PRIMARY KEY,
	value BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS kvstore_symbols (
	symbol TEXT PRIMARY KEY,
	identity BLOB NOT NULL
);
`

// SQLiteBackend is the persistent kvstore.Backend, grounded on the
// teacher's pkg/database SQLite layer: WAL journal mode for concurrent
// readers, a schema-version guard, and statements prepared once at open
// time rather than per call.
type SQLiteBackend struct {
	db *sql.DB

	getStmt        *sql.Stmt
	putStmt        *sql.Stmt
	getSymbolStmt  *sql.Stmt
	listValuesStmt *sql.Stmt
}

// OpenSQLiteBackend opens (creating if absent) a SQLite-backed kvstore at
// path, applying the schema and checking its stamped version.
func OpenSQLiteBackend(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if _, err := db.Exec(sqlSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply kvstore schema: %w", err)
	}

	if err := checkSchemaVersion(db); err != nil {
		db.Close()
		return nil, err
	}

	b := &SQLiteBackend{db: db}
	if err := b.prepare(); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

func checkSchemaVersion(db *sql.DB) error {
	var stored string
	err := db.QueryRow(`SELECT value FROM kvstore_meta WHERE key = 'schema_version'`).Scan(&stored)
	if err == sql.ErrNoRows {
		_, err := db.Exec(`INSERT INTO kvstore_meta (key, value) VALUES ('schema_version', ?)`, fmt.Sprint(schemaVersion))
		return err
	}
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if stored != fmt.Sprint(schemaVersion) {
		return fmt.Errorf("kvstore database schema version %s is incompatible with this binary's %d", stored, schemaVersion)
	}
	return nil
}

func (b *SQLiteBackend) prepare() error {
	var err error
	if b.getStmt, err = b.db.Prepare(`SELECT value FROM kvstore_entries WHERE key = ?`); err != nil {
		return fmt.Errorf("prepare get: %w", err)
	}
	if b.putStmt, err = b.db.Prepare(`INSERT INTO kvstore_entries (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`); err != nil {
		return fmt.Errorf("prepare put: %w", err)
	}
	if b.getSymbolStmt, err = b.db.Prepare(`SELECT identity FROM kvstore_symbols WHERE symbol = ?`); err != nil {
		return fmt.Errorf("prepare get symbol: %w", err)
	}
	if b.listValuesStmt, err = b.db.Prepare(`SELECT key, value FROM kvstore_entries ORDER BY key`); err != nil {
		return fmt.Errorf("prepare list values: %w", err)
	}
	return nil
}

// RegisterSymbol inserts or replaces a symbol -> Identity mapping, used to
// seed the token table kvstore.getTokenId resolves against.
func (b *SQLiteBackend) RegisterSymbol(symbol string, id identity.Identity) error {
	_, err := b.db.Exec(`INSERT INTO kvstore_symbols (symbol, identity) VALUES (?, ?)
		ON CONFLICT(symbol) DO UPDATE SET identity = excluded.identity`, symbol, id.Bytes())
	return err
}

func (b *SQLiteBackend) Info(identity.Identity) (InfoReturns, error) {
	rows, err := b.listValuesStmt.Query()
	if err != nil {
		return InfoReturns{}, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	type kv struct {
		key, value []byte
	}
	var all []kv
	for rows.Next() {
		var k, v []byte
		if err := rows.Scan(&k, &v); err != nil {
			return InfoReturns{}, fmt.Errorf("scan entry: %w", err)
		}
		all = append(all, kv{k, v})
	}
	sort.Slice(all, func(i, j int) bool { return string(all[i].key) < string(all[j].key) })

	h := sha256.New()
	for _, e := range all {
		h.Write(e.key)
		h.Write(e.value)
	}
	return InfoReturns{Hash: h.Sum(nil)}, nil
}

func (b *SQLiteBackend) Get(_ identity.Identity, args GetArgs) (GetReturns, error) {
	var value []byte
	err := b.getStmt.QueryRow(args.Key).Scan(&value)
	if err == sql.ErrNoRows {
		return GetReturns{}, nil
	}
	if err != nil {
		return GetReturns{}, fmt.Errorf("get entry: %w", err)
	}
	return GetReturns{Value: value}, nil
}

func (b *SQLiteBackend) GetTokenID(_ identity.Identity, args GetTokenIdArgs) (GetTokenIdReturns, error) {
	var raw []byte
	err := b.getSymbolStmt.QueryRow(args.Symbol).Scan(&raw)
	if err == sql.ErrNoRows {
		return GetTokenIdReturns{}, ErrSymbolNotFound(args.Symbol)
	}
	if err != nil {
		return GetTokenIdReturns{}, fmt.Errorf("get symbol: %w", err)
	}
	id, err := identity.TryFromBytes(raw)
	if err != nil {
		return GetTokenIdReturns{}, fmt.Errorf("decode stored identity: %w", err)
	}
	return GetTokenIdReturns{ID: id}, nil
}

func (b *SQLiteBackend) Put(_ identity.Identity, args PutArgs) (PutReturns, error) {
	if _, err := b.putStmt.Exec(args.Key, args.Value); err != nil {
		return PutReturns{}, fmt.Errorf("put entry: %w", err)
	}
	return PutReturns{}, nil
}

// Close releases the underlying database handle.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

var _ Backend = (*SQLiteBackend)(nil)
