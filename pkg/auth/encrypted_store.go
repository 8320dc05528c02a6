package auth

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
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

const (
	vaultVersion    = 2
	vaultSaltSize   = 16
	vaultIterations = 210000
	passphraseEnv   = "IGFOLLOWERS_PASSPHRASE"
)

// ErrVaultVersion is returned for credential files this build cannot read
var ErrVaultVersion = errors.New("unsupported credential file version")

// EncryptedFileStore keeps logins in a JSON vault keyed by username. Only the
// password is sealed; the proxy binding and login times stay readable so
// accounts can be listed and matched to sessions. Each password is sealed
// with AES-GCM under a PBKDF2 key, bound to its username.
type EncryptedFileStore struct {
	path       string
	passphrase []byte

	mu sync.RWMutex

	keyMu sync.Mutex
	salt  []byte
	key   []byte
}

type vault struct {
	Version  int                    `json:"version"`
	Salt     string                 `json:"salt"`
	Accounts map[string]vaultRecord `json:"accounts"`
}

type vaultRecord struct {
	Secret    string    `json:"secret"`
	Proxy     string    `json:"proxy,omitempty"`
	LastLogin time.Time `json:"last_login,omitempty"`
	Modified  time.Time `json:"modified"`
}

// NewEncryptedFileStore opens the vault at path. The passphrase comes from
// IGFOLLOWERS_PASSPHRASE, otherwise from a .passphrase file beside the vault
// that is generated on first use.
func NewEncryptedFileStore(path string) (*EncryptedFileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create credential directory: %w", err)
	}
	passphrase, err := loadPassphrase(filepath.Join(filepath.Dir(path), ".passphrase"))
	if err != nil {
		return nil, err
	}
	return &EncryptedFileStore{path: path, passphrase: passphrase}, nil
}

func (e *EncryptedFileStore) Store(account *Account) error {
	if account == nil || account.Username == "" {
		return ErrInvalidCredentials
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	v, err := e.read()
	if err != nil {
		return err
	}
	if v.Salt == "" {
		salt := make([]byte, vaultSaltSize)
		if _, err := rand.Read(salt); err != nil {
			return fmt.Errorf("failed to generate salt: %w", err)
		}
		v.Salt = base64.StdEncoding.EncodeToString(salt)
	}

	secret, err := e.seal(v.Salt, account.Username, account.Password)
	if err != nil {
		return err
	}

	rec := vaultRecord{
		Secret:    secret,
		Proxy:     account.Proxy,
		LastLogin: account.LastLogin,
		Modified:  account.LastModified,
	}
	if rec.Modified.IsZero() {
		rec.Modified = time.Now()
	}
	// storing without login metadata keeps what an earlier login recorded
	if prev, ok := v.Accounts[account.Username]; ok {
		if rec.Proxy == "" {
			rec.Proxy = prev.Proxy
		}
		if rec.LastLogin.IsZero() {
			rec.LastLogin = prev.LastLogin
		}
	}
	v.Accounts[account.Username] = rec

	return e.write(v)
}

func (e *EncryptedFileStore) Retrieve(username string) (*Account, error) {
	if username == "" {
		return nil, ErrInvalidCredentials
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	v, err := e.read()
	if err != nil {
		return nil, err
	}
	rec, ok := v.Accounts[username]
	if !ok {
		return nil, ErrCredentialsNotFound
	}
	return e.account(v.Salt, username, rec)
}

// List returns every login sorted by username
func (e *EncryptedFileStore) List() ([]*Account, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	v, err := e.read()
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(v.Accounts))
	for name := range v.Accounts {
		names = append(names, name)
	}
	sort.Strings(names)

	accounts := make([]*Account, 0, len(names))
	for _, name := range names {
		a, err := e.account(v.Salt, name, v.Accounts[name])
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, nil
}

// Delete removes the login. The vault file goes with the last one.
func (e *EncryptedFileStore) Delete(username string) error {
	if username == "" {
		return ErrInvalidCredentials
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	v, err := e.read()
	if err != nil {
		return err
	}
	if _, ok := v.Accounts[username]; !ok {
		return ErrCredentialsNotFound
	}
	delete(v.Accounts, username)

	if len(v.Accounts) == 0 {
		if err := os.Remove(e.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove credential file: %w", err)
		}
		return nil
	}
	return e.write(v)
}

// Exists reports whether a login is stored, without unsealing it
func (e *EncryptedFileStore) Exists(username string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	v, err := e.read()
	if err != nil {
		return false
	}
	_, ok := v.Accounts[username]
	return ok
}

// read loads the vault, returning an empty one when the file is missing
func (e *EncryptedFileStore) read() (*vault, error) {
	content, err := os.ReadFile(e.path)
	if os.IsNotExist(err) {
		return &vault{Version: vaultVersion, Accounts: make(map[string]vaultRecord)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credential file: %w", err)
	}

	var v vault
	if err := json.Unmarshal(content, &v); err != nil {
		return nil, fmt.Errorf("failed to parse credential file: %w", err)
	}
	if v.Version != vaultVersion {
		return nil, fmt.Errorf("%w: %d", ErrVaultVersion, v.Version)
	}
	if v.Accounts == nil {
		v.Accounts = make(map[string]vaultRecord)
	}
	return &v, nil
}

func (e *EncryptedFileStore) write(v *vault) error {
	content, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode credential file: %w", err)
	}

	tmp := e.path + ".tmp"
	if err := os.WriteFile(tmp, content, 0600); err != nil {
		return fmt.Errorf("failed to write credential file: %w", err)
	}
	if err := os.Rename(tmp, e.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace credential file: %w", err)
	}
	return nil
}

func (e *EncryptedFileStore) account(salt, username string, rec vaultRecord) (*Account, error) {
	password, err := e.open(salt, username, rec.Secret)
	if err != nil {
		return nil, err
	}
	return &Account{
		Username:     username,
		Password:     password,
		Proxy:        rec.Proxy,
		LastLogin:    rec.LastLogin,
		LastModified: rec.Modified,
	}, nil
}

// aead returns the cipher for the vault salt; the derived key is cached per salt
func (e *EncryptedFileStore) aead(salt string) (cipher.AEAD, error) {
	raw, err := base64.StdEncoding.DecodeString(salt)
	if err != nil {
		return nil, fmt.Errorf("failed to decode salt: %w", err)
	}

	e.keyMu.Lock()
	if e.key == nil || string(e.salt) != string(raw) {
		e.key = pbkdf2.Key(e.passphrase, raw, vaultIterations, 32, sha256.New)
		e.salt = raw
	}
	key := e.key
	e.keyMu.Unlock()

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// seal encrypts password with the username as additional data, so a record
// moved under another username no longer opens
func (e *EncryptedFileStore) seal(salt, username, password string) (string, error) {
	gcm, err := e.aead(salt)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(password), []byte(username))
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (e *EncryptedFileStore) open(salt, username, secret string) (string, error) {
	gcm, err := e.aead(salt)
	if err != nil {
		return "", err
	}
	sealed, err := base64.StdEncoding.DecodeString(secret)
	if err != nil || len(sealed) < gcm.NonceSize() {
		return "", fmt.Errorf("malformed secret for %s", username)
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ciphertext, []byte(username))
	if err != nil {
		return "", fmt.Errorf("failed to unseal password for %s: %w", username, err)
	}
	return string(plain), nil
}

func loadPassphrase(path string) ([]byte, error) {
	if pass := os.Getenv(passphraseEnv); pass != "" {
		return []byte(pass), nil
	}
	if content, err := os.ReadFile(path); err == nil && len(content) > 0 {
		return content, nil
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("failed to generate passphrase: %w", err)
	}
	pass := []byte(base64.RawURLEncoding.EncodeToString(raw))
	if err := os.WriteFile(path, pass, 0600); err != nil {
		return nil, fmt.Errorf("failed to save passphrase: %w", err)
	}
	return pass, nil
}
