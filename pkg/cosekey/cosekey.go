// Package cosekey generates, imports, exports and canonically encodes
// ECDSA P-256 COSE_Key material (RFC 9052/9679).
package cosekey

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"

	gocose "github.com/veraison/go-cose"
)

// KeyPair holds an ECDSA P-256 key pair usable as a software COSE signer.
type KeyPair struct {
	Private *ecdsa.PrivateKey
	Public  *ecdsa.PublicKey
}

// Generate creates a new ES256 (ECDSA P-256 with SHA-256) key pair.
func Generate() (*KeyPair, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ES256 key pair: %w", err)
	}
	return &KeyPair{Private: privateKey, Public: &privateKey.PublicKey}, nil
}

// ExportPrivatePEM exports the private key to PKCS#8 PEM.
func ExportPrivatePEM(key *ecdsa.PrivateKey) (string, error) {
	if key == nil {
		return "", errors.New("private key is nil")
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return "", fmt.Errorf("marshal private key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})), nil
}

// ExportPublicPEM exports the public key to SPKI PEM.
func ExportPublicPEM(key *ecdsa.PublicKey) (string, error) {
	if key == nil {
		return "", errors.New("public key is nil")
	}
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// ImportPrivatePEM parses a PKCS#8 PEM-encoded P-256 private key.
func ImportPrivatePEM(data string) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(data))
	if block == nil {
		return nil, errors.New("failed to decode PEM block")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse PKCS8 private key: %w", err)
	}
	ecKey, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, errors.New("key is not an ECDSA private key")
	}
	if ecKey.Curve != elliptic.P256() {
		return nil, errors.New("only P-256 is supported")
	}
	return ecKey, nil
}

// ImportPublicPEM parses an SPKI PEM-encoded P-256 public key.
func ImportPublicPEM(data string) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(data))
	if block == nil {
		return nil, errors.New("failed to decode PEM block")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse PKIX public key: %w", err)
	}
	pub, ok := key.(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("key is not an ECDSA public key")
	}
	if pub.Curve != elliptic.P256() {
		return nil, errors.New("only P-256 is supported")
	}
	return pub, nil
}

func padLeft(data []byte, length int) []byte {
	if len(data) >= length {
		return data
	}
	padded := make([]byte, length)
	copy(padded[length-len(data):], data)
	return padded
}

// ToCOSEPublic builds a go-cose EC2 key holding only the public coordinates.
func ToCOSEPublic(key *ecdsa.PublicKey) (*gocose.Key, error) {
	if key == nil {
		return nil, errors.New("public key is nil")
	}
	if key.Curve != elliptic.P256() {
		return nil, errors.New("only P-256 is supported")
	}
	x := padLeft(key.X.Bytes(), 32)
	y := padLeft(key.Y.Bytes(), 32)
	coseKey, err := gocose.NewKeyEC2(gocose.AlgorithmES256, x, y, nil)
	if err != nil {
		return nil, fmt.Errorf("build COSE EC2 key: %w", err)
	}
	return coseKey, nil
}

// ToCOSEPrivate builds a go-cose EC2 key holding public and private material.
func ToCOSEPrivate(key *ecdsa.PrivateKey) (*gocose.Key, error) {
	if key == nil {
		return nil, errors.New("private key is nil")
	}
	if key.Curve != elliptic.P256() {
		return nil, errors.New("only P-256 is supported")
	}
	x := padLeft(key.X.Bytes(), 32)
	y := padLeft(key.Y.Bytes(), 32)
	d := padLeft(key.D.Bytes(), 32)
	coseKey, err := gocose.NewKeyEC2(gocose.AlgorithmES256, x, y, d)
	if err != nil {
		return nil, fmt.Errorf("build COSE EC2 key: %w", err)
	}
	return coseKey, nil
}

// MarshalPublicCBOR encodes the public key as a canonical COSE_Key CBOR blob.
// This is the exact byte form hashed by pkg/identity to derive an Identity.
func MarshalPublicCBOR(key *ecdsa.PublicKey) ([]byte, error) {
	coseKey, err := ToCOSEPublic(key)
	if err != nil {
		return nil, err
	}
	data, err := coseKey.MarshalCBOR()
	if err != nil {
		return nil, fmt.Errorf("marshal COSE key to CBOR: %w", err)
	}
	return data, nil
}

// MarshalPrivateCBOR encodes the private key (with public coordinates) as COSE_Key CBOR.
func MarshalPrivateCBOR(key *ecdsa.PrivateKey) ([]byte, error) {
	coseKey, err := ToCOSEPrivate(key)
	if err != nil {
		return nil, err
	}
	data, err := coseKey.MarshalCBOR()
	if err != nil {
		return nil, fmt.Errorf("marshal COSE key to CBOR: %w", err)
	}
	return data, nil
}

// UnmarshalPublicCBOR parses a COSE_Key CBOR blob into an ECDSA public key.
func UnmarshalPublicCBOR(data []byte) (*ecdsa.PublicKey, error) {
	if len(data) == 0 {
		return nil, errors.New("CBOR data is empty")
	}
	coseKey := &gocose.Key{}
	if err := coseKey.UnmarshalCBOR(data); err != nil {
		return nil, fmt.Errorf("unmarshal COSE key: %w", err)
	}
	if coseKey.Algorithm != gocose.AlgorithmES256 {
		return nil, fmt.Errorf("unsupported algorithm: %v", coseKey.Algorithm)
	}
	_, x, y, _ := coseKey.EC2()
	if len(x) == 0 || len(y) == 0 {
		return nil, errors.New("missing EC2 coordinates")
	}
	pub := &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(x),
		Y:     new(big.Int).SetBytes(y),
	}
	if !pub.Curve.IsOnCurve(pub.X, pub.Y) {
		return nil, errors.New("public key point is not on P-256 curve")
	}
	return pub, nil
}

// UnmarshalPrivateCBOR parses a COSE_Key CBOR blob into an ECDSA private key.
func UnmarshalPrivateCBOR(data []byte) (*ecdsa.PrivateKey, error) {
	if len(data) == 0 {
		return nil, errors.New("CBOR data is empty")
	}
	coseKey := &gocose.Key{}
	if err := coseKey.UnmarshalCBOR(data); err != nil {
		return nil, fmt.Errorf("unmarshal COSE key: %w", err)
	}
	if coseKey.Algorithm != gocose.AlgorithmES256 {
		return nil, fmt.Errorf("unsupported algorithm: %v", coseKey.Algorithm)
	}
	_, x, y, d := coseKey.EC2()
	if len(x) == 0 || len(y) == 0 || len(d) == 0 {
		return nil, errors.New("missing EC2 key material")
	}
	priv := &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{
			Curve: elliptic.P256(),
			X:     new(big.Int).SetBytes(x),
			Y:     new(big.Int).SetBytes(y),
		},
		D: new(big.Int).SetBytes(d),
	}
	if !priv.PublicKey.Curve.IsOnCurve(priv.PublicKey.X, priv.PublicKey.Y) {
		return nil, errors.New("public key point is not on P-256 curve")
	}
	return priv, nil
}
