// Package cardnum generates, validates, encrypts and masks bank card
// numbers. Plaintext numbers exist only inside this package and at the
// moment of issuance; storage sees ciphertext, responses see masks.
package cardnum

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	cardLength  = 16
	maxAttempts = 100

	// kdfSalt must stay fixed: the derived key has to be stable across
	// restarts so stored ciphertexts remain decryptable.
	kdfSalt       = "card-service/cardnum"
	kdfIterations = 4096
	keySize       = 16
)

var (
	// ErrExhaustedRetries is returned when Generate cannot produce a unique
	// card number within the bounded attempt count.
	ErrExhaustedRetries = errors.New("exhausted card number generation attempts")

	// ErrCorruptCiphertext is returned when encrypted input cannot be a
	// product of Encrypt (too short, truncated or mangled).
	ErrCorruptCiphertext = errors.New("corrupt card number ciphertext")

	placeholder = "****"
)

// ExistsFunc reports whether an encrypted card number is already stored.
type ExistsFunc func(cipher string) (bool, error)

// Codec encrypts and decrypts card numbers with a key derived from a
// configured passphrase.
type Codec struct {
	key    []byte
	prefix string
}

// New derives the AES key from the passphrase and validates the issuer
// prefix. The prefix must be numeric and leave room for at least one
// random digit plus the check digit.
func New(passphrase, prefix string) (*Codec, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("encryption passphrase is empty")
	}
	if prefix == "" || len(prefix) > cardLength-2 {
		return nil, fmt.Errorf("invalid issuer prefix length: %d", len(prefix))
	}
	for _, r := range prefix {
		if r < '0' || r > '9' {
			return nil, fmt.Errorf("issuer prefix must be numeric, got %q", prefix)
		}
	}
	key := pbkdf2.Key([]byte(passphrase), []byte(kdfSalt), kdfIterations, keySize, sha256.New)
	return &Codec{key: key, prefix: prefix}, nil
}

// Generate produces a Luhn-valid 16-digit card number whose encrypted form
// is not yet present in storage. It returns both the plaintext and the
// ciphertext that was checked for uniqueness, so the caller persists
// exactly the cipher that passed the check.
func (c *Codec) Generate(ctx context.Context, exists ExistsFunc) (plain, ciphertext string, err error) {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", "", err
		}

		number, err := c.randomNumber()
		if err != nil {
			return "", "", err
		}
		if !c.IsValid(number) {
			continue
		}

		enc, err := c.Encrypt(number)
		if err != nil {
			return "", "", err
		}
		taken, err := exists(enc)
		if err != nil {
			return "", "", fmt.Errorf("card number uniqueness check: %w", err)
		}
		if !taken {
			return number, enc, nil
		}
	}
	return "", "", fmt.Errorf("%w: gave up after %d attempts", ErrExhaustedRetries, maxAttempts)
}

// randomNumber builds prefix + random digits + Luhn check digit.
func (c *Codec) randomNumber() (string, error) {
	digits := make([]byte, cardLength-1-len(c.prefix))
	if _, err := rand.Read(digits); err != nil {
		return "", fmt.Errorf("failed to generate random digits: %w", err)
	}

	var builder strings.Builder
	builder.WriteString(c.prefix)
	for _, b := range digits {
		builder.WriteByte(b%10 + '0')
	}
	builder.WriteByte(byte(CheckDigit(builder.String())) + '0')
	return builder.String(), nil
}

// CheckDigit computes the Luhn check digit for a digit-only payload.
func CheckDigit(payload string) int {
	sum := luhnSum(payload, true)
	return (10 - sum%10) % 10
}

// IsValid reports whether the number is 13-19 digits (ignoring spaces)
// and passes the Luhn checksum.
func (c *Codec) IsValid(number string) bool {
	clean := stripSpaces(number)
	if len(clean) < 13 || len(clean) > 19 {
		return false
	}
	for _, r := range clean {
		if r < '0' || r > '9' {
			return false
		}
	}
	return luhnSum(clean, false)%10 == 0
}

func luhnSum(number string, doubleRightmost bool) int {
	sum := 0
	double := doubleRightmost
	for i := len(number) - 1; i >= 0; i-- {
		digit := int(number[i] - '0')
		if double {
			digit *= 2
			if digit > 9 {
				digit = digit%10 + 1
			}
		}
		sum += digit
		double = !double
	}
	return sum
}

// Encrypt encrypts a card number with AES-CBC, a fresh random IV prepended,
// and base64-encodes the result. Two calls on the same plaintext yield
// different ciphertexts.
func (c *Codec) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", fmt.Errorf("plaintext card number is empty")
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("failed to generate IV: %w", err)
	}

	padded := pkcs7Pad([]byte(plaintext))
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)

	return base64.StdEncoding.EncodeToString(append(iv, out...)), nil
}

// Decrypt reverses Encrypt.
func (c *Codec) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorruptCiphertext, err)
	}
	if len(raw) < aes.BlockSize {
		return "", fmt.Errorf("%w: %d bytes is shorter than the IV", ErrCorruptCiphertext, len(raw))
	}

	iv := raw[:aes.BlockSize]
	data := raw[aes.BlockSize:]
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: invalid ciphertext length %d", ErrCorruptCiphertext, len(data))
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	plain := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, data)

	unpadded, err := pkcs7Unpad(plain)
	if err != nil {
		return "", err
	}
	return string(unpadded), nil
}

// DisplayNumber decrypts a stored cipher and masks it in one step. This is
// the only path from stored ciphertext to a presentable number, so a mask
// can never be applied to ciphertext by accident.
func (c *Codec) DisplayNumber(ciphertext string) (string, error) {
	plain, err := c.Decrypt(ciphertext)
	if err != nil {
		return "", err
	}
	return Mask(plain), nil
}

// Mask renders a plaintext card number as "**** **** **** NNNN". Inputs
// with fewer than four digits after whitespace stripping collapse to a
// fixed placeholder.
func Mask(number string) string {
	clean := stripSpaces(number)
	if len(clean) < 4 {
		return placeholder
	}
	return "**** **** **** " + clean[len(clean)-4:]
}

func stripSpaces(s string) string {
	return strings.Join(strings.Fields(s), "")
}

func pkcs7Pad(data []byte) []byte {
	padding := aes.BlockSize - len(data)%aes.BlockSize
	for i := 0; i < padding; i++ {
		data = append(data, byte(padding))
	}
	return data
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	padding := int(data[len(data)-1])
	if padding == 0 || padding > aes.BlockSize || padding > len(data) {
		return nil, fmt.Errorf("%w: invalid padding value %d", ErrCorruptCiphertext, padding)
	}
	for i := len(data) - padding; i < len(data); i++ {
		if int(data[i]) != padding {
			return nil, fmt.Errorf("%w: inconsistent padding", ErrCorruptCiphertext)
		}
	}
	return data[:len(data)-padding], nil
}
