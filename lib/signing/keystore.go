// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package signing

import (
	"bytes"
	"crypto/ed25519"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"filippo.io/age"
)

const sealedKeyFile = "runtime-signing-key.age"

// SealPrivateKey encrypts the private key with a passphrase (age
// scrypt recipient) and writes it to the state directory alongside the
// plaintext public key. Hosts that seal the key should not also keep
// the plaintext private key file on disk.
func SealPrivateKey(stateDir, passphrase string, public ed25519.PublicKey, private ed25519.PrivateKey) error {
	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return fmt.Errorf("creating scrypt recipient: %w", err)
	}

	var ciphertext bytes.Buffer
	writer, err := age.Encrypt(&ciphertext, recipient)
	if err != nil {
		return fmt.Errorf("sealing private key: %w", err)
	}
	if _, err := writer.Write(private); err != nil {
		return fmt.Errorf("sealing private key: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("sealing private key: %w", err)
	}

	sealedPath := filepath.Join(stateDir, sealedKeyFile)
	if err := os.WriteFile(sealedPath, ciphertext.Bytes(), 0600); err != nil {
		return fmt.Errorf("writing sealed key: %w", err)
	}
	publicPath := filepath.Join(stateDir, publicKeyFile)
	if err := os.WriteFile(publicPath, public, 0644); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}
	return nil
}

// UnsealPrivateKey decrypts a sealed private key from the state
// directory using the passphrase.
func UnsealPrivateKey(stateDir, passphrase string) (ed25519.PrivateKey, error) {
	sealedPath := filepath.Join(stateDir, sealedKeyFile)
	ciphertext, err := os.ReadFile(sealedPath)
	if err != nil {
		return nil, fmt.Errorf("reading sealed key: %w", err)
	}

	identity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt identity: %w", err)
	}
	reader, err := age.Decrypt(bytes.NewReader(ciphertext), identity)
	if err != nil {
		return nil, fmt.Errorf("unsealing private key: %w", err)
	}
	private, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("unsealing private key: %w", err)
	}
	if len(private) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("unsealed key has %d bytes, want %d", len(private), ed25519.PrivateKeySize)
	}
	return ed25519.PrivateKey(private), nil
}

// SealedKeyExists reports whether the state directory holds a sealed
// private key.
func SealedKeyExists(stateDir string) bool {
	_, err := os.Stat(filepath.Join(stateDir, sealedKeyFile))
	return err == nil
}
