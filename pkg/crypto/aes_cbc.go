package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"github.com/pkg/errors"
	"github.com/zenazn/pkcs7pad"
)

var errShortCiphertext = errors.New("ciphertext shorter than one block")

// AesCbc encrypts with AES-256-CBC under a key derived from a passphrase.
// Every ciphertext starts with its random IV.
type AesCbc struct {
	cipher cipher.Block
}

type AesCbcConfig struct {
	Passphrase string
}

func NewAesCbc(cfg AesCbcConfig) (*AesCbc, error) {
	if len(cfg.Passphrase) == 0 {
		return nil, errors.New("empty passphrase")
	}

	key := sha256.Sum256([]byte(cfg.Passphrase))

	cipher, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}

	return &AesCbc{
		cipher: cipher,
	}, nil
}

func (c *AesCbc) Encrypt(payload []byte) ([]byte, error) {
	bs := c.cipher.BlockSize()
	payload = pkcs7pad.Pad(payload, bs)

	encrypted := make([]byte, bs+len(payload))
	iv := encrypted[:bs]

	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, err
	}

	encrypter := cipher.NewCBCEncrypter(c.cipher, iv)
	encrypter.CryptBlocks(encrypted[bs:], payload)

	return encrypted, nil
}

func (c *AesCbc) Decrypt(payload []byte) ([]byte, error) {
	bs := c.cipher.BlockSize()

	if len(payload) < 2*bs || len(payload)%bs != 0 {
		return nil, errShortCiphertext
	}

	decrypter := cipher.NewCBCDecrypter(c.cipher, payload[:bs])
	decrypted := make([]byte, len(payload)-bs)

	decrypter.CryptBlocks(decrypted, payload[bs:])

	return pkcs7pad.Unpad(decrypted)
}
