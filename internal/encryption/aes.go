package encryption

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha1"
	"errors"
	"fmt"

	"vfspanel/internal/panel"
)

const (
	aesKeySize       = 32
	derivationRounds = 5
)

// ErrNotInitialized is returned by AESCipher before a successful Init.
var ErrNotInitialized = errors.New("cipher key not initialized")

// AESCipher implements panel.SecretCipher with AES-256-CBC and PKCS#7
// padding. The key and IV are derived from key material the way OpenSSL's
// EVP_BytesToKey does it with SHA-1 and 5 rounds, so blobs written by other
// tools using the same parameters decrypt here.
type AESCipher struct {
	salt []byte
	key  []byte
	iv   []byte
}

var _ panel.SecretCipher = (*AESCipher)(nil)

// NewAESCipher creates an uninitialized cipher.
func NewAESCipher() *AESCipher {
	return &AESCipher{}
}

// WithSalt sets an 8-byte derivation salt. Records written without a salt
// must be read without one.
func (c *AESCipher) WithSalt(salt []byte) *AESCipher {
	c.salt = append([]byte(nil), salt...)
	return c
}

// Init derives key and IV from keyMaterial. It reports false when the
// derivation does not yield a full key, leaving the cipher unusable.
func (c *AESCipher) Init(keyMaterial string) bool {
	key, iv := bytesToKey([]byte(keyMaterial), c.salt, derivationRounds, aesKeySize, aes.BlockSize)
	if len(key) != aesKeySize {
		c.key, c.iv = nil, nil
		return false
	}
	c.key, c.iv = key, iv
	return true
}

func (c *AESCipher) Encrypt(plain []byte) ([]byte, error) {
	block, err := c.block()
	if err != nil {
		return nil, err
	}
	padded := pkcs7Pad(plain, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, c.iv).CryptBlocks(out, padded)
	return out, nil
}

func (c *AESCipher) Decrypt(data []byte) ([]byte, error) {
	block, err := c.block()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext length %d is not a multiple of the block size", len(data))
	}
	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, c.iv).CryptBlocks(out, data)
	plain, err := pkcs7Unpad(out, aes.BlockSize)
	if err != nil {
		return nil, fmt.Errorf("decrypting secret: %w", err)
	}
	return plain, nil
}

func (c *AESCipher) block() (cipher.Block, error) {
	if c.key == nil {
		return nil, ErrNotInitialized
	}
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("creating aes cipher: %w", err)
	}
	return block, nil
}

// bytesToKey is EVP_BytesToKey: D_i = H^rounds(D_{i-1} || data || salt),
// concatenated until keyLen+ivLen bytes are available.
func bytesToKey(data, salt []byte, rounds, keyLen, ivLen int) ([]byte, []byte) {
	var out, prev []byte
	for len(out) < keyLen+ivLen {
		h := sha1.New()
		h.Write(prev)
		h.Write(data)
		h.Write(salt)
		d := h.Sum(nil)
		for i := 1; i < rounds; i++ {
			s := sha1.Sum(d)
			d = s[:]
		}
		out = append(out, d...)
		prev = d
	}
	return out[:keyLen], out[keyLen : keyLen+ivLen]
}

func pkcs7Pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(append([]byte(nil), b...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, errors.New("bad padded length")
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size {
		return nil, errors.New("bad padding")
	}
	for _, p := range b[len(b)-n:] {
		if int(p) != n {
			return nil, errors.New("bad padding")
		}
	}
	return b[:len(b)-n], nil
}
