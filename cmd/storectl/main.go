package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"storechain/cmd/internal/passphrase"
	"storechain/config"
	"storechain/crypto"
	"storechain/rpc"
)

const (
	keygenCommand = "keygen"
	tokenCommand  = "token"
	callCommand   = "call"

	defaultPassEnv = "STORECHAIN_KEYSTORE_PASS"
	defaultConfig  = "./config.toml"
	defaultRPC     = "http://127.0.0.1:8080"
)

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(1)
	}
	var err error
	switch os.Args[1] {
	case keygenCommand:
		err = runKeygen(os.Args[2:], os.Stdout)
	case tokenCommand:
		err = runToken(os.Args[2:], os.Stdout, time.Now)
	case callCommand:
		err = runCall(os.Args[2:], os.Stdout, http.DefaultClient)
	default:
		usage(os.Stderr)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type keyInfo struct {
	Address  string `json:"address"`
	Hex      string `json:"hex"`
	Keystore string `json:"keystore,omitempty"`
}

// runKeygen creates a secp256k1 key and prints its ledger address. With
// -keystore the key is written encrypted under the passphrase from -pass-env
// or the terminal.
func runKeygen(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(keygenCommand, flag.ContinueOnError)
	keystorePath := fs.String("keystore", "", "Write the key to this keystore file")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable holding the keystore passphrase")
	force := fs.Bool("force", false, "Overwrite an existing keystore file")
	light := fs.Bool("light", false, "Use cheap scrypt parameters (tests and local development only)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	addr := key.PubKey().Address()
	info := keyInfo{Address: addr.String(), Hex: crypto.HexAddress(addr.Raw())}

	if path := strings.TrimSpace(*keystorePath); path != "" {
		if !*force {
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("keystore file %s already exists (use -force to overwrite)", path)
			} else if !os.IsNotExist(err) {
				return err
			}
		}
		pass, err := passphrase.NewSource(*passEnv, passphrase.WithLabel("new key"), passphrase.WithConfirmation()).Get()
		if err != nil {
			return err
		}
		if err := crypto.SaveToKeystore(path, key, pass, *light); err != nil {
			return fmt.Errorf("write keystore: %w", err)
		}
		info.Keystore = path
	}
	return writeJSON(out, info)
}

// runToken mints a bearer token for -address signed with the secret from the
// node config (or -secret).
func runToken(args []string, out io.Writer, now func() time.Time) error {
	fs := flag.NewFlagSet(tokenCommand, flag.ContinueOnError)
	configPath := fs.String("config", defaultConfig, "Node configuration supplying the auth section")
	address := fs.String("address", "", "Address the token authenticates (bech32 or 0x hex)")
	secret := fs.String("secret", "", "HMAC secret; overrides the config")
	issuer := fs.String("issuer", "", "Issuer claim; overrides the config")
	audience := fs.String("audience", "", "Audience claim; overrides the config")
	ttl := fs.Duration("ttl", 0, "Token lifetime; defaults to the config TokenTTLSeconds")
	if err := fs.Parse(args); err != nil {
		return err
	}

	subject, err := crypto.ParseAddress(*address)
	if err != nil {
		return fmt.Errorf("address: %w", err)
	}
	settings := tokenSettings{secret: *secret, issuer: *issuer, audience: *audience, ttl: *ttl}
	if settings.secret == "" || settings.issuer == "" || settings.ttl <= 0 {
		cfg, err := config.Load(*configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		settings.fill(cfg)
	}
	token, err := rpc.IssueToken(settings.secret, settings.issuer, settings.audience, subject, settings.ttl, now())
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}

type tokenSettings struct {
	secret   string
	issuer   string
	audience string
	ttl      time.Duration
}

func (s *tokenSettings) fill(cfg *config.Config) {
	if s.secret == "" {
		s.secret = cfg.HMACSecret()
	}
	if s.issuer == "" {
		s.issuer = cfg.Auth.Issuer
	}
	if s.audience == "" {
		s.audience = cfg.Auth.Audience
	}
	if s.ttl <= 0 {
		s.ttl = time.Duration(cfg.Auth.TokenTTLSeconds) * time.Second
	}
}

// runCall posts one call to a running node and prints the response body.
func runCall(args []string, out io.Writer, client *http.Client) error {
	fs := flag.NewFlagSet(callCommand, flag.ContinueOnError)
	endpoint := fs.String("rpc", defaultRPC, "Node RPC base URL")
	token := fs.String("token", os.Getenv("STORECHAIN_TOKEN"), "Bearer token (defaults to $STORECHAIN_TOKEN)")
	to := fs.String("to", "", "Target address")
	value := fs.String("value", "", "Value to transfer")
	method := fs.String("method", "", "Contract method; empty sends a plain transfer")
	params := fs.String("params", "", "JSON parameters")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*token) == "" {
		return fmt.Errorf("token required")
	}
	req := rpc.CallRequest{To: *to, Value: *value, Method: *method}
	if raw := strings.TrimSpace(*params); raw != "" {
		if !json.Valid([]byte(raw)) {
			return fmt.Errorf("params must be valid JSON")
		}
		req.Params = json.RawMessage(raw)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequest(http.MethodPost, strings.TrimRight(*endpoint, "/")+"/v1/call", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+strings.TrimSpace(*token))
	resp, err := client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if _, err := out.Write(payload); err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("call failed: %s", resp.Status)
	}
	return nil
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func usage(out io.Writer) {
	fmt.Fprintln(out, "storectl <command> [flags]")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Commands:")
	fmt.Fprintf(out, "  %s    Generate a key and print its address\n", keygenCommand)
	fmt.Fprintf(out, "  %s     Mint a bearer token for an address\n", tokenCommand)
	fmt.Fprintf(out, "  %s      Submit a call to a running node\n", callCommand)
}
