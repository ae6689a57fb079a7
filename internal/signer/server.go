package signer

import (
	"bufio"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ServerConfig configures the isolated signer process.
type ServerConfig struct {
	SocketPath     string
	KeyFilePath    string
	Passphrase     string
	ApprovalSecret []byte
}

// Server is the isolated signer process: it holds the decrypted
// private key in memory and nothing else touches it. One goroutine
// per accepted connection, grounded on the teacher's
// Hub.Subscribe (internal/api/websocket.go) per-connection-goroutine
// shape, adapted from a fan-out broadcast loop to a strict
// one-request-then-close cycle (spec.md §4.5: "connections are
// short-lived and one-shot").
type Server struct {
	mu             sync.Mutex
	listener       net.Listener
	socketPath     string
	privateKey     *ecdsa.PrivateKey
	rawKey         []byte
	address        common.Address
	approvalSecret []byte
	closed         bool
}

// NewServer loads and decrypts the key file and prepares to listen.
// Listen must be called separately so load failures and bind failures
// report distinct errors.
func NewServer(cfg ServerConfig) (*Server, error) {
	rawKey, err := LoadKeyFile(cfg.KeyFilePath, cfg.Passphrase)
	if err != nil {
		return nil, fmt.Errorf("load key file: %w", err)
	}

	privateKey, err := crypto.ToECDSA(rawKey)
	if err != nil {
		zero(rawKey)
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	return &Server{
		socketPath:     cfg.SocketPath,
		privateKey:     privateKey,
		rawKey:         rawKey,
		address:        crypto.PubkeyToAddress(privateKey.PublicKey),
		approvalSecret: cfg.ApprovalSecret,
	}, nil
}

// Listen binds the Unix domain socket at mode 0o600, removing any
// stale socket file left behind by a prior crashed process.
func (s *Server) Listen() error {
	_ = os.Remove(s.socketPath)

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.socketPath, err)
	}
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		ln.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}
	s.listener = ln
	return nil
}

// Serve accepts connections until the listener closes, handling each
// on its own goroutine. It returns nil when Shutdown closes the
// listener out from under it.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.isClosed() {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go s.handleConn(conn)
	}
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	if !scanner.Scan() {
		return
	}

	var req Request
	resp := Response{}
	if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
		resp.Error = "malformed request"
	} else {
		resp = s.handle(req)
	}

	raw, err := json.Marshal(resp)
	if err != nil {
		log.Printf("signer: marshal response: %v", err)
		return
	}
	raw = append(raw, '\n')
	if _, err := conn.Write(raw); err != nil {
		log.Printf("signer: write response: %v", err)
	}
}

func (s *Server) handle(req Request) Response {
	switch req.Type {
	case RequestHealthCheck:
		return Response{Success: true, Data: HealthResult{Status: "ok"}}

	case RequestGetAddress:
		return Response{Success: true, Data: AddressResult{Address: s.address.Hex()}}

	case RequestSignTransaction:
		if !VerifyApprovalToken(s.approvalSecret, req.TransactionHash, req.ApprovalToken, time.Now()) {
			return Response{Success: false, Error: "approval token invalid or expired"}
		}
		sig, err := s.signHash(req.TransactionHash)
		if err != nil {
			return Response{Success: false, Error: err.Error()}
		}
		return Response{Success: true, Data: SignResult{Signature: sig, Address: s.address.Hex()}}

	case RequestSignMessage:
		if !VerifyApprovalToken(s.approvalSecret, req.Message, req.ApprovalToken, time.Now()) {
			return Response{Success: false, Error: "approval token invalid or expired"}
		}
		sig, err := s.signHash(hashPersonalMessage(req.Message))
		if err != nil {
			return Response{Success: false, Error: err.Error()}
		}
		return Response{Success: true, Data: SignResult{Signature: sig, Address: s.address.Hex()}}

	default:
		return Response{Success: false, Error: fmt.Sprintf("unknown request type %q", req.Type)}
	}
}

func (s *Server) signHash(hashHex string) (string, error) {
	hashBytes, err := hex.DecodeString(trimHexPrefix(hashHex))
	if err != nil {
		return "", fmt.Errorf("invalid hash: %w", err)
	}
	sig, err := crypto.Sign(hashBytes, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}
	return "0x" + hex.EncodeToString(sig), nil
}

func hashPersonalMessage(message string) string {
	hash := crypto.Keccak256Hash([]byte(fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)))
	return hash.Hex()
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

// Shutdown stops accepting connections, zeros the in-memory private
// key, and removes the socket file. It must be safe to call more than
// once.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	if s.listener != nil {
		s.listener.Close()
	}
	zero(s.rawKey)
	s.privateKey = nil
	_ = os.Remove(s.socketPath)
	return nil
}
