// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package fhe

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const sealInfo = "readingvault user decrypt v1"

var (
	ErrInvalidKey     = errors.New("invalid X25519 key")
	ErrSealedTooShort = errors.New("sealed value too short")
)

// Keypair is an ephemeral X25519 key pair used to receive decrypted values.
type Keypair struct {
	PublicKey  []byte
	PrivateKey []byte
}

// GenerateKeypair returns a fresh X25519 key pair.
func GenerateKeypair() (*Keypair, error) {
	priv := make([]byte, curve25519.ScalarSize)
	if _, err := io.ReadFull(rand.Reader, priv); err != nil {
		return nil, err
	}
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	return &Keypair{PublicKey: pub, PrivateKey: priv}, nil
}

// Seal encrypts plaintext to recipient. The output is
// [ephemeral public key(32)] [chacha20poly1305 ciphertext].
func Seal(recipient, plaintext []byte) ([]byte, error) {
	if len(recipient) != curve25519.PointSize {
		return nil, ErrInvalidKey
	}
	eph, err := GenerateKeypair()
	if err != nil {
		return nil, err
	}
	shared, err := curve25519.X25519(eph.PrivateKey, recipient)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	aead, err := sealCipher(shared, eph.PublicKey, recipient)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	out := append([]byte{}, eph.PublicKey...)
	return aead.Seal(out, nonce, plaintext, nil), nil
}

// Open decrypts a value produced by Seal for the holder of priv.
func Open(priv, sealed []byte) ([]byte, error) {
	if len(priv) != curve25519.ScalarSize {
		return nil, ErrInvalidKey
	}
	if len(sealed) < curve25519.PointSize+chacha20poly1305.Overhead {
		return nil, ErrSealedTooShort
	}
	ephPub := sealed[:curve25519.PointSize]
	shared, err := curve25519.X25519(priv, ephPub)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	aead, err := sealCipher(shared, ephPub, pub)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	return aead.Open(nil, nonce, sealed[curve25519.PointSize:], nil)
}

// The derived key is unique per sealed value, so the nonce is fixed at zero.
func sealCipher(shared, ephPub, recipient []byte) (cipher.AEAD, error) {
	salt := append(append([]byte{}, ephPub...), recipient...)
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, salt, []byte(sealInfo)), key); err != nil {
		return nil, err
	}
	return chacha20poly1305.New(key)
}
