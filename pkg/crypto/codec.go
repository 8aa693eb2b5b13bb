package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

const ivSize = aes.BlockSize

var (
	ErrCodec       = errors.New("codec error")
	ErrKeyRequired = errors.New("encryption key is required when encryption is enabled")
	ErrKeySize     = errors.New("encryption key must be 16, 24 or 32 bytes")
)

// Codec encrypts chat payloads for transport and storage. The wire token is
// Base64(IV || AES-CBC(PKCS#7(plaintext))). The key bytes are used as given,
// so their length selects AES-128, AES-192 or AES-256. A disabled codec
// passes text through.
type Codec struct {
	enabled bool
	block   cipher.Block
}

func NewCodec(key string, enabled bool) (*Codec, error) {
	if !enabled {
		return &Codec{}, nil
	}
	if err := CheckKey(key); err != nil {
		return nil, err
	}

	block, err := aes.NewCipher([]byte(key))
	if err != nil {
		return nil, fmt.Errorf("init aes cipher failed: %w", err)
	}

	return &Codec{enabled: true, block: block}, nil
}

func (c *Codec) Enabled() bool {
	return c != nil && c.enabled
}

func (c *Codec) Encrypt(plaintext string) (string, error) {
	if !c.Enabled() {
		return plaintext, nil
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	out := make([]byte, ivSize+len(padded))
	iv := out[:ivSize]
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generate iv failed: %w", err)
	}

	cipher.NewCBCEncrypter(c.block, iv).CryptBlocks(out[ivSize:], padded)
	return base64.StdEncoding.EncodeToString(out), nil
}

func (c *Codec) Decrypt(token string) (string, error) {
	if !c.Enabled() {
		return token, nil
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(token))
	if err != nil {
		return "", fmt.Errorf("%w: invalid base64", ErrCodec)
	}
	if len(raw) < ivSize {
		return "", fmt.Errorf("%w: payload shorter than iv", ErrCodec)
	}

	body := raw[ivSize:]
	if len(body) == 0 || len(body)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: ciphertext is not a whole number of blocks", ErrCodec)
	}

	plain := make([]byte, len(body))
	cipher.NewCBCDecrypter(c.block, raw[:ivSize]).CryptBlocks(plain, body)

	unpadded, err := pkcs7Unpad(plain, aes.BlockSize)
	if err != nil {
		return "", err
	}
	return string(unpadded), nil
}

// CheckKey reports whether key can drive the codec.
func CheckKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrKeyRequired
	}
	switch len(key) {
	case 16, 24, 32:
		return nil
	default:
		return fmt.Errorf("%w, got %d", ErrKeySize, len(key))
	}
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("%w: invalid padded length", ErrCodec)
	}

	padding := int(data[len(data)-1])
	if padding == 0 || padding > blockSize {
		return nil, fmt.Errorf("%w: invalid padding", ErrCodec)
	}
	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, fmt.Errorf("%w: invalid padding", ErrCodec)
		}
	}

	return data[:len(data)-padding], nil
}
