package kvstore_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"testing"

	"github.com/brianh20/many-go/pkg/identity"
	"github.com/brianh20/many-go/pkg/kvstore"
)

func newIdentity(t *testing.T) identity.Identity {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	id, err := identity.FromPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("from public key: %v", err)
	}
	return id
}

func TestMemoryBackendPutGet(t *testing.T) {
	backend := kvstore.NewMemoryBackend()
	sender := newIdentity(t)

	if _, err := backend.Put(sender, kvstore.PutArgs{Key: []byte("k"), Value: []byte("v")}); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := backend.Get(sender, kvstore.GetArgs{Key: []byte("k")})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got.Value) != "v" {
		t.Errorf("expected value %q, got %q", "v", got.Value)
	}
}

func TestMemoryBackendGetMissingKey(t *testing.T) {
	backend := kvstore.NewMemoryBackend()
	got, err := backend.Get(newIdentity(t), kvstore.GetArgs{Key: []byte("nope")})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Value != nil {
		t.Errorf("expected a nil value for a missing key, got %q", got.Value)
	}
}

func TestMemoryBackendInfoChangesWithContent(t *testing.T) {
	backend := kvstore.NewMemoryBackend()
	sender := newIdentity(t)

	before, err := backend.Info(sender)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if _, err := backend.Put(sender, kvstore.PutArgs{Key: []byte("a"), Value: []byte("b")}); err != nil {
		t.Fatalf("put: %v", err)
	}
	after, err := backend.Info(sender)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if string(before.Hash) == string(after.Hash) {
		t.Error("expected the info hash to change after a put")
	}
}

// TestMemoryBackendGetTokenID exercises Backend.GetTokenID directly, in
// process, with no CBOR encode/decode in between. It does not by itself
// prove identity.Identity survives the wire; see
// pkg/server.TestKVStoreGetTokenIDSurvivesTheWire for the end-to-end check.
func TestMemoryBackendGetTokenID(t *testing.T) {
	backend := kvstore.NewMemoryBackend()
	sender := newIdentity(t)
	target := newIdentity(t)

	t.Run("unknown symbol", func(t *testing.T) {
		_, err := backend.GetTokenID(sender, kvstore.GetTokenIdArgs{Symbol: "FOO"})
		if err == nil {
			t.Fatal("expected an error for an unregistered symbol")
		}
	})

	t.Run("registered symbol resolves", func(t *testing.T) {
		backend.RegisterSymbol("FOO", target)
		got, err := backend.GetTokenID(sender, kvstore.GetTokenIdArgs{Symbol: "FOO"})
		if err != nil {
			t.Fatalf("get token id: %v", err)
		}
		if !got.ID.Equal(target) {
			t.Error("expected the resolved identity to match the registered one")
		}
	})
}

func TestNewModuleEndpoints(t *testing.T) {
	mod, err := kvstore.NewModule(kvstore.NewMemoryBackend())
	if err != nil {
		t.Fatalf("new module: %v", err)
	}

	names := mod.Names()
	want := map[string]bool{
		"kvstore.info":       false,
		"kvstore.get":        false,
		"kvstore.getTokenId": false,
		"kvstore.put":        false,
	}
	for _, n := range names {
		if _, ok := want[n]; !ok {
			t.Errorf("unexpected endpoint %q", n)
		}
		want[n] = true
	}
	for n, seen := range want {
		if !seen {
			t.Errorf("expected endpoint %q to be registered", n)
		}
	}

	put, ok := mod.Lookup("kvstore.put")
	if !ok {
		t.Fatal("expected kvstore.put to be registered")
	}
	if !put.DenyAnonymous {
		t.Error("expected kvstore.put to deny anonymous senders")
	}

	info, ok := mod.Lookup("kvstore.info")
	if !ok {
		t.Fatal("expected kvstore.info to be registered")
	}
	if info.DenyAnonymous {
		t.Error("expected kvstore.info to allow anonymous senders")
	}
}
