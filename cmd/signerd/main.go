// Command signerd is the isolated signer process (spec.md §4.5/§9): a
// separate OS process holding the decrypted private key, reachable
// only over a Unix domain socket. It never imports the shield,
// providers, or HTTP surface that cmd/wardex runs — keeping the
// private key out of the same process as anything that parses
// untrusted agent input is the whole point of the isolation boundary.
package main

import (
	"encoding/hex"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Kweiss/Wardex/internal/signer"
)

func main() {
	log.Println("Starting Wardex isolated signer...")

	socketPath := getEnvOrDefault("SIGNERD_SOCKET_PATH", "/run/wardex/signer.sock")
	keyFilePath := getEnvOrDefault("SIGNERD_KEY_FILE", "/etc/wardex/signer-key.json")

	passphrase := os.Getenv("SIGNERD_PASSPHRASE")
	if passphrase == "" {
		log.Fatal("SIGNERD_PASSPHRASE must be set — the signer refuses to start without a key passphrase")
	}

	secretHex := os.Getenv("SIGNERD_APPROVAL_SECRET")
	if secretHex == "" {
		log.Fatal("SIGNERD_APPROVAL_SECRET must be set — it HMACs approval tokens minted by the shield")
	}
	approvalSecret, err := hex.DecodeString(secretHex)
	if err != nil {
		log.Fatalf("SIGNERD_APPROVAL_SECRET must be hex-encoded: %v", err)
	}

	srv, err := signer.NewServer(signer.ServerConfig{
		SocketPath:     socketPath,
		KeyFilePath:    keyFilePath,
		Passphrase:     passphrase,
		ApprovalSecret: approvalSecret,
	})
	if err != nil {
		log.Fatalf("Failed to load signer key: %v", err)
	}

	if err := srv.Listen(); err != nil {
		log.Fatalf("Failed to bind signer socket at %s: %v", socketPath, err)
	}
	log.Printf("Signer listening on %s", socketPath)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down signer, zeroing key material...")
		if err := srv.Shutdown(); err != nil {
			log.Printf("Warning: error during signer shutdown: %v", err)
		}
	}()

	if err := srv.Serve(); err != nil {
		log.Fatalf("Signer serve loop exited: %v", err)
	}
}

func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
