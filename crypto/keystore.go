package crypto

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/google/uuid"
)

var (
	// ErrWrongPassphrase is returned when a keystore does not open with the
	// supplied passphrase.
	ErrWrongPassphrase = errors.New("keystore: wrong passphrase")
	// ErrKeystoreMismatch flags a file whose plaintext address does not
	// belong to the encrypted key, usually a hand-edited or swapped file.
	ErrKeystoreMismatch = errors.New("keystore: address does not match key")
)

// SaveToKeystore encrypts key into a v3 keystore file at path. The platform
// operator and store owners use standard scrypt costs; light is for
// throwaway development identities. The file is replaced atomically and is
// readable by the owner only.
func SaveToKeystore(path string, key *PrivateKey, passphrase string, light bool) error {
	if key == nil {
		return errors.New("keystore: nil private key")
	}
	if path == "" {
		return errors.New("keystore: empty path")
	}
	scryptN, scryptP := keystore.StandardScryptN, keystore.StandardScryptP
	if light {
		scryptN, scryptP = keystore.LightScryptN, keystore.LightScryptP
	}
	id, err := uuid.NewRandom()
	if err != nil {
		return err
	}
	owner := key.PubKey().Address()
	encrypted, err := keystore.EncryptKey(&keystore.Key{
		Id:         id,
		Address:    owner.Raw(),
		PrivateKey: key.PrivateKey,
	}, passphrase, scryptN, scryptP)
	if err != nil {
		return fmt.Errorf("keystore: encrypt %s: %w", owner, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".keystore-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(encrypted); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// LoadFromKeystore decrypts a keystore file written by SaveToKeystore and
// checks that its recorded address is the key's ledger address.
func LoadFromKeystore(path, passphrase string) (*PrivateKey, error) {
	if path == "" {
		return nil, errors.New("keystore: empty path")
	}
	keyJSON, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var header struct {
		Address string `json:"address"`
	}
	if err := json.Unmarshal(keyJSON, &header); err != nil {
		return nil, fmt.Errorf("keystore: %s: %w", path, err)
	}

	decrypted, err := keystore.DecryptKey(keyJSON, passphrase)
	if errors.Is(err, keystore.ErrDecrypt) {
		return nil, fmt.Errorf("%w: %s", ErrWrongPassphrase, path)
	}
	if err != nil {
		return nil, err
	}
	key := &PrivateKey{PrivateKey: decrypted.PrivateKey}
	recorded, err := ParseAddress("0x" + header.Address)
	if err != nil || recorded != key.PubKey().Address().Raw() {
		return nil, fmt.Errorf("%w: %s", ErrKeystoreMismatch, path)
	}
	return key, nil
}
