package kvstore

import (
	"crypto/sha256"
	"sort"
	"sync"

	"github.com/brianh20/many-go/pkg/identity"
)

// entryTable is a thread-safe, defensive-copying key/value map: the minimal
// piece of MemoryBackend's storage that kvstore actually exercises (get/put/
// list), kept local to this package rather than through a generic Storage
// interface no other backend here implements.
type entryTable struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func newEntryTable() *entryTable {
	return &entryTable{data: make(map[string][]byte)}
}

func (t *entryTable) get(key string) []byte {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.data[key]
	if !ok {
		return nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out
}

func (t *entryTable) put(key string, value []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	stored := make([]byte, len(value))
	copy(stored, value)
	t.data[key] = stored
}

func (t *entryTable) keys() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	keys := make([]string, 0, len(t.data))
	for k := range t.data {
		keys = append(keys, k)
	}
	return keys
}

// MemoryBackend is an in-memory kvstore.Backend for tests: the key/value
// table and the symbol table are two disjoint maps guarded by their own
// locks.
type MemoryBackend struct {
	mu      sync.Mutex
	store   *entryTable
	symbols map[string]identity.Identity
}

// NewMemoryBackend creates an empty in-memory kvstore backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		store:   newEntryTable(),
		symbols: make(map[string]identity.Identity),
	}
}

// RegisterSymbol makes symbol resolvable by kvstore.getTokenId, for tests
// that exercise scenario S4 without a real token-registration endpoint.
func (b *MemoryBackend) RegisterSymbol(symbol string, id identity.Identity) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.symbols[symbol] = id
}

func (b *MemoryBackend) Info(identity.Identity) (InfoReturns, error) {
	keys := b.store.keys()
	sort.Strings(keys)
	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write(b.store.get(k))
	}
	return InfoReturns{Hash: h.Sum(nil)}, nil
}

func (b *MemoryBackend) Get(_ identity.Identity, args GetArgs) (GetReturns, error) {
	return GetReturns{Value: b.store.get(string(args.Key))}, nil
}

func (b *MemoryBackend) GetTokenID(_ identity.Identity, args GetTokenIdArgs) (GetTokenIdReturns, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if id, ok := b.symbols[args.Symbol]; ok {
		return GetTokenIdReturns{ID: id}, nil
	}
	return GetTokenIdReturns{}, ErrSymbolNotFound(args.Symbol)
}

func (b *MemoryBackend) Put(_ identity.Identity, args PutArgs) (PutReturns, error) {
	b.store.put(string(args.Key), args.Value)
	return PutReturns{}, nil
}

var _ Backend = (*MemoryBackend)(nil)
