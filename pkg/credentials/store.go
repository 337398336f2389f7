// Store encrypts the relay (TURN) username and password using Crypto, and
// writes the result to a local file named CredentialFile (see: Save()).
//
// It also decrypts a value from CredentialFile using Crypto, and returns the
// parsed username and password (see: Load()).
//
// An encrypted value stored in CredentialFile is presented as
// "${len(username)}${username}${len(password)}${password}" with one-byte
// lengths (see: writeField() and readField()).

package credentials

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"os"

	"github.com/pkg/errors"
)

var errFieldTooLong = errors.New("credential longer than 255 bytes")

type Crypto interface {
	Encrypt([]byte) ([]byte, error)
	Decrypt([]byte) ([]byte, error)
}

type Store struct {
	cfg StoreConfig

	crypto Crypto
}

type StoreConfig struct {
	CredentialFile string
}

func NewStore(cfg StoreConfig, crypto Crypto) *Store {
	return &Store{
		cfg:    cfg,
		crypto: crypto,
	}
}

func (m *Store) Save(username, password string) error {
	buf := &bytes.Buffer{}

	if err := m.writeField(buf, username); err != nil {
		return err
	}

	if err := m.writeField(buf, password); err != nil {
		return err
	}

	encrypted, err := m.crypto.Encrypt(buf.Bytes())
	if err != nil {
		return err
	}

	return os.WriteFile(m.cfg.CredentialFile, encrypted, 0600)
}

func (m *Store) Load() (username, password string, err error) {
	payload, err := os.ReadFile(m.cfg.CredentialFile)
	if err != nil {
		return "", "", err
	}

	decrypted, err := m.crypto.Decrypt(payload)
	if err != nil {
		return "", "", errors.Wrap(err, "decrypt credentials")
	}

	buf := bytes.NewBuffer(decrypted)

	username, err = m.readField(buf)
	if err != nil {
		return "", "", err
	}

	password, err = m.readField(buf)
	if err != nil {
		return "", "", err
	}

	return username, password, nil
}

func (m *Store) writeField(w io.Writer, field string) error {
	b := []byte(field)

	if len(b) > math.MaxUint8 {
		return errFieldTooLong
	}

	if err := binary.Write(w, binary.BigEndian, uint8(len(b))); err != nil {
		return err
	}

	_, err := w.Write(b)

	return err
}

func (m *Store) readField(r io.Reader) (string, error) {
	var length uint8

	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return "", err
	}

	b := make([]byte, length)

	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}

	return string(b), nil
}
