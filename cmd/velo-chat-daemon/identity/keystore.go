package identity

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/libp2p/go-libp2p/core/crypto"
	"golang.org/x/crypto/argon2"
)

const (
	keyPermissions = 0600
	// Argon2id parameters
	argonTime    = 1
	argonMemory  = 64 * 1024 // 64 MB
	argonThreads = 4
	argonKeyLen  = 32 // AES-256
	saltLen      = 16
	nonceLen     = 12
)

// LoadOrCreate returns the node's Ed25519 identity key, generating and
// persisting a fresh one on first run. A non-empty passphrase encrypts the
// key at rest with Argon2id + AES-GCM; otherwise the marshaled key is
// stored plaintext with owner-only permissions.
func LoadOrCreate(keyPath string, passphrase []byte) (crypto.PrivKey, error) {
	if KeyExists(keyPath) {
		return loadKey(keyPath, passphrase)
	}

	log.Printf("Identity: Generating new private key at %s", keyPath)
	privKey, _, err := crypto.GenerateKeyPair(crypto.Ed25519, -1)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}

	if err := saveKey(keyPath, privKey, passphrase); err != nil {
		_ = os.Remove(keyPath)
		return nil, err
	}
	return privKey, nil
}

// KeyExists reports whether a key file is present at keyPath.
func KeyExists(keyPath string) bool {
	info, err := os.Stat(keyPath)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}

func saveKey(keyPath string, privKey crypto.PrivKey, passphrase []byte) error {
	privKeyBytes, err := crypto.MarshalPrivateKey(privKey)
	if err != nil {
		return fmt.Errorf("failed to marshal private key: %w", err)
	}

	if len(passphrase) == 0 {
		if err := os.WriteFile(keyPath, privKeyBytes, keyPermissions); err != nil {
			return fmt.Errorf("failed to write key file: %w", err)
		}
		return nil
	}

	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}

	derivedKey := argon2.IDKey(passphrase, salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return fmt.Errorf("failed to create AES cipher: %w", err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("failed to create AES-GCM cipher: %w", err)
	}

	nonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := aesgcm.Seal(nil, nonce, privKeyBytes, nil)

	file, err := os.OpenFile(keyPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, keyPermissions)
	if err != nil {
		return fmt.Errorf("failed to open key file for writing: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(salt); err != nil {
		return fmt.Errorf("failed to write salt: %w", err)
	}
	if _, err := file.Write(nonce); err != nil {
		return fmt.Errorf("failed to write nonce: %w", err)
	}
	if _, err := file.Write(ciphertext); err != nil {
		return fmt.Errorf("failed to write ciphertext: %w", err)
	}
	return nil
}

func loadKey(keyPath string, passphrase []byte) (crypto.PrivKey, error) {
	data, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file %s: %w", keyPath, err)
	}

	if len(passphrase) == 0 {
		privKey, err := crypto.UnmarshalPrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal key bytes: %w", err)
		}
		log.Printf("Identity: Loaded key from %s", keyPath)
		return privKey, nil
	}

	if len(data) <= saltLen+nonceLen {
		return nil, fmt.Errorf("key file %s appears corrupted", keyPath)
	}

	salt := data[:saltLen]
	nonce := data[saltLen : saltLen+nonceLen]
	ciphertext := data[saltLen+nonceLen:]

	derivedKey := argon2.IDKey(passphrase, salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher for decryption: %w", err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES-GCM cipher for decryption: %w", err)
	}

	plaintext, err := aesgcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt key (incorrect passphrase or corrupted file): %w", err)
	}

	privKey, err := crypto.UnmarshalPrivateKey(plaintext)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal decrypted key bytes: %w", err)
	}

	log.Printf("Identity: Loaded and decrypted key from %s", keyPath)
	return privKey, nil
}
