package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// keyByteLength is the number of random bytes in a generated ops key.
// 32 bytes = 256 bits of entropy, hex-encoded to a 64-character string.
const keyByteLength = 32

// GenerateOpsKey produces a random plaintext ops key and its bcrypt hash.
// The key comes from crypto/rand; an error indicates the OS entropy source
// failed, which is not recoverable here.
func GenerateOpsKey(cost int) (key, hash string, err error) {
	buf := make([]byte, keyByteLength)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generating ops key: crypto/rand failed: %w", err)
	}
	key = hex.EncodeToString(buf)

	hashed, err := bcrypt.GenerateFromPassword([]byte(key), cost)
	if err != nil {
		return "", "", fmt.Errorf("hashing ops key: %w", err)
	}
	return key, string(hashed), nil
}
