package cosekey_test

import (
	"testing"

	"github.com/brianh20/many-go/pkg/cosekey"
)

func TestGenerate(t *testing.T) {
	kp, err := cosekey.Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if kp.Private == nil || kp.Public == nil {
		t.Fatal("expected both private and public key material")
	}
}

func TestPEMRoundTrip(t *testing.T) {
	kp, err := cosekey.Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	t.Run("private key", func(t *testing.T) {
		pemStr, err := cosekey.ExportPrivatePEM(kp.Private)
		if err != nil {
			t.Fatalf("export private PEM: %v", err)
		}
		imported, err := cosekey.ImportPrivatePEM(pemStr)
		if err != nil {
			t.Fatalf("import private PEM: %v", err)
		}
		if imported.D.Cmp(kp.Private.D) != 0 {
			t.Error("imported private scalar does not match original")
		}
	})

	t.Run("public key", func(t *testing.T) {
		pemStr, err := cosekey.ExportPublicPEM(kp.Public)
		if err != nil {
			t.Fatalf("export public PEM: %v", err)
		}
		imported, err := cosekey.ImportPublicPEM(pemStr)
		if err != nil {
			t.Fatalf("import public PEM: %v", err)
		}
		if imported.X.Cmp(kp.Public.X) != 0 || imported.Y.Cmp(kp.Public.Y) != 0 {
			t.Error("imported public point does not match original")
		}
	})

	t.Run("rejects garbage PEM", func(t *testing.T) {
		if _, err := cosekey.ImportPrivatePEM("not a pem block"); err == nil {
			t.Error("expected an error for invalid PEM")
		}
	})
}

func TestCOSERoundTrip(t *testing.T) {
	kp, err := cosekey.Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	t.Run("public key CBOR round-trips", func(t *testing.T) {
		data, err := cosekey.MarshalPublicCBOR(kp.Public)
		if err != nil {
			t.Fatalf("marshal public CBOR: %v", err)
		}
		pub, err := cosekey.UnmarshalPublicCBOR(data)
		if err != nil {
			t.Fatalf("unmarshal public CBOR: %v", err)
		}
		if pub.X.Cmp(kp.Public.X) != 0 || pub.Y.Cmp(kp.Public.Y) != 0 {
			t.Error("round-tripped public key does not match original")
		}
	})

	t.Run("public key CBOR encoding is deterministic", func(t *testing.T) {
		a, err := cosekey.MarshalPublicCBOR(kp.Public)
		if err != nil {
			t.Fatalf("marshal (a): %v", err)
		}
		b, err := cosekey.MarshalPublicCBOR(kp.Public)
		if err != nil {
			t.Fatalf("marshal (b): %v", err)
		}
		if string(a) != string(b) {
			t.Error("expected canonical CBOR encoding to be stable across calls")
		}
	})

	t.Run("private key CBOR round-trips", func(t *testing.T) {
		data, err := cosekey.MarshalPrivateCBOR(kp.Private)
		if err != nil {
			t.Fatalf("marshal private CBOR: %v", err)
		}
		priv, err := cosekey.UnmarshalPrivateCBOR(data)
		if err != nil {
			t.Fatalf("unmarshal private CBOR: %v", err)
		}
		if priv.D.Cmp(kp.Private.D) != 0 {
			t.Error("round-tripped private scalar does not match original")
		}
	})

	t.Run("rejects empty CBOR data", func(t *testing.T) {
		if _, err := cosekey.UnmarshalPublicCBOR(nil); err == nil {
			t.Error("expected an error for empty CBOR data")
		}
	})
}
