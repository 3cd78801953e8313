// genkey generates an Ed25519 key pair for SAT18 session signing and,
// optionally, the argon2id hash of a console API key.
//
// Usage (run from the repo root):
//
//	go run ./scripts/genkey [-dir data] [-api-key SECRET]
//
// Writes:
//
//	data/jwt_private.pem  (mode 0600, keep this secret)
//	data/jwt_public.pem   (mode 0600)
//
// Point SAT18_JWT_PRIVATE_KEY and SAT18_JWT_PUBLIC_KEY at these files and set
// SAT18_API_KEY_HASH to the printed hash.
//
// The server generates ephemeral keys when SAT18_JWT_PRIVATE_KEY is unset,
// but those are discarded on every restart, invalidating all session tokens.
package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sat18-labs/sat18/internal/auth"
)

func main() {
	dir := flag.String("dir", "data", "output directory for the key pair")
	apiKey := flag.String("api-key", "", "console API key to hash (optional)")
	flag.Parse()

	if err := run(*dir, *apiKey, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(dir, apiKey string, out io.Writer) error {
	privPath := filepath.Join(dir, "jwt_private.pem")
	pubPath := filepath.Join(dir, "jwt_public.pem")

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("cannot create %s: %w", dir, err)
	}

	// Existing keys sign live sessions.
	for _, path := range []string{privPath, pubPath} {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists, delete it first to rotate keys", path)
		}
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return fmt.Errorf("marshal private key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return fmt.Errorf("marshal public key: %w", err)
	}

	if err := writePEM(privPath, "PRIVATE KEY", privDER); err != nil {
		return err
	}
	if err := writePEM(pubPath, "PUBLIC KEY", pubDER); err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote %s\n", privPath)
	fmt.Fprintf(out, "wrote %s\n", pubPath)

	if apiKey != "" {
		hash, err := auth.HashAPIKey(apiKey)
		if err != nil {
			return fmt.Errorf("hash api key: %w", err)
		}
		fmt.Fprintf(out, "SAT18_API_KEY_HASH=%s\n", hash)
	}
	return nil
}

func writePEM(path, blockType string, der []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600) //nolint:gosec // path built from flag
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := pem.Encode(f, &pem.Block{Type: blockType, Bytes: der}); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
