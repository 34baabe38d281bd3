package geocode

import (
	"bytes"
	"fmt"
	"os"

	"golang.org/x/crypto/openpgp"
)

// decryptAndVerify reads an OpenPGP message carrying the index payload and
// checks its embedded signature against the public key at keyPath. The
// keyring holds only that public key and no private key, so a payload
// encrypted to a recipient key cannot be opened and is returned as an
// error; only signed, unencrypted messages are accepted.
func decryptAndVerify(ciphertext []byte, keyPath string) ([]byte, error) {
	if keyPath == "" {
		return nil, fmt.Errorf("geocode: no SourceKeyPath configured, cannot verify signed index")
	}

	keyFile, err := os.Open(keyPath)
	if err != nil {
		return nil, fmt.Errorf("geocode: opening SourceKeyPath: %w", err)
	}
	defer keyFile.Close()

	keyring, err := openpgp.ReadArmoredKeyRing(keyFile)
	if err != nil {
		return nil, fmt.Errorf("geocode: reading public key ring: %w", err)
	}

	md, err := openpgp.ReadMessage(bytes.NewReader(ciphertext), keyring, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("geocode: reading encrypted message: %w", err)
	}

	plaintext := new(bytes.Buffer)
	if _, err := plaintext.ReadFrom(md.UnverifiedBody); err != nil {
		return nil, fmt.Errorf("geocode: reading decrypted body: %w", err)
	}

	if md.SignatureError != nil {
		return nil, fmt.Errorf("geocode: signature verification failed: %w", md.SignatureError)
	}
	if md.Signature == nil && md.SignatureV3 == nil {
		return nil, fmt.Errorf("geocode: index payload is not signed")
	}

	return plaintext.Bytes(), nil
}
