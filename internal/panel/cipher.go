package panel

// SecretCipher encrypts and decrypts password blobs for one key.
// Implementations are reusable for any number of calls once keyed.
type SecretCipher interface {
	Encrypt(plain []byte) ([]byte, error)
	Decrypt(cipher []byte) ([]byte, error)
}
