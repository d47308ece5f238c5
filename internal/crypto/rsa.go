package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEncryptFailed wraps every password encryption failure.
	ErrEncryptFailed = errors.New("password encryption failed")
	// ErrDecryptFailed wraps every password decryption failure.
	ErrDecryptFailed = errors.New("password decryption failed")
)

// KeyPair holds base64 DER key material as distributed to the console.
// PrivateKey is optional and only used for local debugging.
type KeyPair struct {
	PublicKey  string
	PrivateKey string
}

// EncryptPassword encrypts plain with the base64 SPKI public key using
// RSA PKCS#1 v1.5 and returns the ciphertext as standard base64.
func EncryptPassword(plain, publicKeyB64 string) (string, error) {
	pub, err := parsePublicKey(publicKeyB64)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptFailed, err)
	}
	out, err := rsa.EncryptPKCS1v15(rand.Reader, pub, []byte(plain))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptFailed, err)
	}
	if len(out) == 0 {
		return "", fmt.Errorf("%w: empty ciphertext", ErrEncryptFailed)
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

// DecryptPassword reverses EncryptPassword with a base64 PKCS#8 private key.
func DecryptPassword(cipherB64, privateKeyB64 string) (string, error) {
	priv, err := parsePrivateKey(privateKeyB64)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(cipherB64))
	if err != nil {
		return "", fmt.Errorf("%w: ciphertext is not base64: %v", ErrDecryptFailed, err)
	}
	plain, err := rsa.DecryptPKCS1v15(rand.Reader, priv, raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}
	return string(plain), nil
}

// GenerateKeyPair creates a fresh pair in the same encoding the gateway distributes.
func GenerateKeyPair(bits int) (KeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return KeyPair{}, fmt.Errorf("generate rsa key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return KeyPair{}, fmt.Errorf("marshal public key: %w", err)
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return KeyPair{}, fmt.Errorf("marshal private key: %w", err)
	}
	return KeyPair{
		PublicKey:  base64.StdEncoding.EncodeToString(pubDER),
		PrivateKey: base64.StdEncoding.EncodeToString(privDER),
	}, nil
}

func parsePublicKey(b64 string) (*rsa.PublicKey, error) {
	block, err := toPEM(b64, "PUBLIC KEY")
	if err != nil {
		return nil, err
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, not RSA", key)
	}
	return pub, nil
}

func parsePrivateKey(b64 string) (*rsa.PrivateKey, error) {
	block, err := toPEM(b64, "PRIVATE KEY")
	if err != nil {
		return nil, err
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		// Some deployments still hand out PKCS#1.
		if k1, err1 := x509.ParsePKCS1PrivateKey(block.Bytes); err1 == nil {
			return k1, nil
		}
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	priv, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is %T, not RSA", key)
	}
	return priv, nil
}

// toPEM wraps bare base64 key material into a PEM block with 64-column
// lines and decodes it again, accepting input that is already PEM.
func toPEM(b64, kind string) (*pem.Block, error) {
	s := strings.TrimSpace(b64)
	if s == "" {
		return nil, errors.New("no key configured")
	}
	if !strings.HasPrefix(s, "-----BEGIN") {
		s = strings.Join(strings.Fields(s), "")
		var sb strings.Builder
		sb.WriteString("-----BEGIN " + kind + "-----\n")
		for i := 0; i < len(s); i += 64 {
			end := min(i+64, len(s))
			sb.WriteString(s[i:end])
			sb.WriteByte('\n')
		}
		sb.WriteString("-----END " + kind + "-----\n")
		s = sb.String()
	}
	block, _ := pem.Decode([]byte(s))
	if block == nil {
		return nil, errors.New("key is not valid base64 DER")
	}
	return block, nil
}
