// Package crypto stores brokerage API credentials encrypted at rest.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// saltLen is the random salt length in bytes.
	saltLen = 16
	// aesKeyLen is the derived AES-256 key length.
	aesKeyLen = 32
	// currentVersion is the credential file schema version.
	currentVersion = 1
)

// kdfIterations is the PBKDF2-HMAC-SHA256 work factor.
var kdfIterations = 480_000

// ErrNoCredentials is returned when no credential source is configured.
var ErrNoCredentials = errors.New("crypto: no broker credentials configured")

// Credentials is an API key pair.
type Credentials struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
}

// Valid reports whether both halves are present.
func (c Credentials) Valid() bool {
	return strings.TrimSpace(c.APIKey) != "" && strings.TrimSpace(c.APISecret) != ""
}

// sealedFile is the on-disk format.
type sealedFile struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// Source says where LoadCredentials should look. Raw values win over the
// encrypted file.
type Source struct {
	APIKey    string
	APISecret string
	Path      string
	Password  string
}

func gcmFor(password string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(password), salt, kdfIterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}
	return gcm, nil
}

// Seal encrypts creds with a password-derived AES-256-GCM key and returns the
// JSON file contents.
func Seal(creds Credentials, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	if !creds.Valid() {
		return nil, errors.New("crypto: api key and secret must both be set")
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generating salt: %w", err)
	}
	gcm, err := gcmFor(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}

	plain, err := json.Marshal(creds)
	if err != nil {
		return nil, fmt.Errorf("crypto: encoding credentials: %w", err)
	}
	out := sealedFile{
		Version:    currentVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, plain, nil)),
	}
	return json.MarshalIndent(out, "", "  ")
}

// Open decrypts file contents produced by Seal.
func Open(data []byte, password string) (Credentials, error) {
	if password == "" {
		return Credentials{}, errors.New("crypto: password must not be empty")
	}

	var stored sealedFile
	if err := json.Unmarshal(data, &stored); err != nil {
		return Credentials{}, fmt.Errorf("crypto: parsing credential file: %w", err)
	}
	if stored.Version != currentVersion {
		return Credentials{}, fmt.Errorf("crypto: unsupported version %d", stored.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(stored.Salt)
	if err != nil {
		return Credentials{}, fmt.Errorf("crypto: decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(stored.Nonce)
	if err != nil {
		return Credentials{}, fmt.Errorf("crypto: decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(stored.Ciphertext)
	if err != nil {
		return Credentials{}, fmt.Errorf("crypto: decoding ciphertext: %w", err)
	}

	gcm, err := gcmFor(password, salt)
	if err != nil {
		return Credentials{}, err
	}
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return Credentials{}, fmt.Errorf("crypto: decryption failed (wrong password?): %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal(plain, &creds); err != nil {
		return Credentials{}, fmt.Errorf("crypto: decoding credentials: %w", err)
	}
	return creds, nil
}

// LoadCredentials resolves credentials from src. It returns ErrNoCredentials
// when neither raw values nor a file path are configured.
func LoadCredentials(src Source) (Credentials, error) {
	raw := Credentials{APIKey: src.APIKey, APISecret: src.APISecret}
	if raw.Valid() {
		return raw, nil
	}
	if src.Path == "" {
		return Credentials{}, ErrNoCredentials
	}
	data, err := os.ReadFile(src.Path)
	if err != nil {
		return Credentials{}, fmt.Errorf("crypto: reading credential file: %w", err)
	}
	return Open(data, src.Password)
}
