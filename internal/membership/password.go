// internal/membership/password.go
package membership

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/argon2"

	"github.com/libranexus/lending/internal/domain"
)

// argonParams are the Argon2id cost settings stored credentials were made with.
type argonParams struct {
	time    uint32
	memory  uint32
	threads uint8
	keyLen  uint32
	saltLen int
}

var defaultArgon = argonParams{time: 1, memory: 64 * 1024, threads: 4, keyLen: 32, saltLen: 16}

func (p argonParams) key(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, p.time, p.memory, p.threads, p.keyLen)
}

// newCredential derives a salted Argon2id credential for password.
func (p argonParams) newCredential(password string) (domain.Credential, error) {
	salt := make([]byte, p.saltLen)
	if _, err := rand.Read(salt); err != nil {
		return domain.Credential{}, fmt.Errorf("read salt: %w", err)
	}
	return domain.Credential{
		PasswordHash: base64.StdEncoding.EncodeToString(p.key(password, salt)),
		Salt:         base64.StdEncoding.EncodeToString(salt),
	}, nil
}

// matches reports whether password produces the stored hash.
func (p argonParams) matches(cred domain.Credential, password string) (bool, error) {
	salt, err := base64.StdEncoding.DecodeString(cred.Salt)
	if err != nil {
		return false, fmt.Errorf("decode salt: %w", err)
	}
	want, err := base64.StdEncoding.DecodeString(cred.PasswordHash)
	if err != nil {
		return false, fmt.Errorf("decode hash: %w", err)
	}
	return subtle.ConstantTimeCompare(want, p.key(password, salt)) == 1, nil
}
