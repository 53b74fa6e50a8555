// Command svcorbctl is the thin CLI wrapper around svcorbd's envelope RPC
// listener: the core exposes its capabilities as handlers, and any CLI is
// a trivial wrapper around them. It dials the listener, seals one
// request, prints the response, and exits with a status code: 0 success,
// 1 handled error, 2 usage, 3 not-applicable.
package main

import (
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"svcorb/internal/crypt"
	"svcorb/internal/listener"
	"svcorb/internal/security"
)

// maxFrame mirrors internal/listener's MaxFrame cap; frame.go is
// unexported so the client reimplements the same length-prefixed framing.
const maxFrame = 32 * 1024 * 1024

func writeFrame(w io.Writer, payload []byte) error {
	if len(payload) > maxFrame {
		return fmt.Errorf("frame of %d bytes exceeds %d byte cap", len(payload), maxFrame)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrame {
		return nil, fmt.Errorf("frame of %d bytes exceeds %d byte cap", n, maxFrame)
	}
	buf := make([]byte, n)
	_, err := io.ReadFull(r, buf)
	return buf, err
}

const (
	exitSuccess       = 0
	exitHandledError  = 1
	exitUsage         = 2
	exitNotApplicable = 3
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: svcorbctl [flags] <action> [key=value ...]

flags:
  -server addr      RPC listener address (default 127.0.0.1:1215)
  -cluster name     cluster name the envelope authenticates against
  -secret str       shared cluster secret
  -secret-file path read the shared secret from a file instead of -secret
  -node name        node identity to present in the envelope (default hostname)
  -timeout dur      dial/round-trip timeout (default 10s)
  -json             print the raw response JSON instead of a formatted summary

actions mirror the listener's registered handlers, e.g.:
  svcorbctl status
  svcorbctl start path=root/svc/web
  svcorbctl set_maintenance node=n2 duration=5m

local-only utility (no daemon connection):
  svcorbctl encrypt-secret <passphrase> <secret>
      prints the encrypted bytes for cluster.conf's secret_file keyword
`)
}

func main() {
	os.Exit(run())
}

func run() int {
	fs := flag.NewFlagSet("svcorbctl", flag.ContinueOnError)
	fs.Usage = usage
	server := fs.String("server", "127.0.0.1:1215", "RPC listener address")
	clusterName := fs.String("cluster", "", "cluster name")
	secret := fs.String("secret", "", "shared cluster secret")
	secretFile := fs.String("secret-file", "", "path to a file holding the shared secret")
	nodeName := fs.String("node", "", "node identity to present")
	timeout := fs.Duration("timeout", 10*time.Second, "dial/round-trip timeout")
	jsonOut := fs.Bool("json", false, "print raw response JSON")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return exitUsage
	}
	args := fs.Args()
	if len(args) == 0 {
		usage()
		return exitUsage
	}
	action := args[0]

	if action == "encrypt-secret" {
		return runEncryptSecret(args[1:])
	}

	options, err := parseOptions(args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "svcorbctl:", err)
		return exitUsage
	}

	secretBytes, err := resolveSecret(*secret, *secretFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "svcorbctl:", err)
		return exitUsage
	}

	self := *nodeName
	if self == "" {
		if host, err := os.Hostname(); err == nil {
			self = host
		}
	}

	resp, err := call(*server, *clusterName, secretBytes, self, action, options, *timeout)
	if err != nil {
		fmt.Fprintln(os.Stderr, "svcorbctl:", err)
		return exitHandledError
	}

	if *jsonOut {
		raw, _ := json.MarshalIndent(resp, "", "  ")
		fmt.Println(string(raw))
	} else {
		printResponse(resp)
	}

	switch resp.Status {
	case 0:
		return exitSuccess
	default:
		if strings.Contains(resp.Error, "not applicable") || strings.Contains(resp.Error, "no-op") {
			return exitNotApplicable
		}
		return exitHandledError
	}
}

// runEncryptSecret implements the local "encrypt-secret" utility: no
// daemon round trip, just internal/security's at-rest secret_file
// encryption exposed as a one-shot CLI command for provisioning
// cluster.conf's secret_file keyword.
func runEncryptSecret(args []string) int {
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: svcorbctl encrypt-secret <passphrase> <secret>")
		return exitUsage
	}
	out, err := security.EncryptSecretFile(args[0], []byte(args[1]))
	if err != nil {
		fmt.Fprintln(os.Stderr, "svcorbctl:", err)
		return exitHandledError
	}
	os.Stdout.Write(out)
	return exitSuccess
}

// parseOptions turns "key=value" argv pairs into the options map a
// listener.Request carries, attempting int/bool conversion so numeric and
// boolean params round-trip without quoting.
func parseOptions(pairs []string) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(pairs))
	for _, p := range pairs {
		idx := strings.Index(p, "=")
		if idx < 0 {
			return nil, fmt.Errorf("malformed option %q, want key=value", p)
		}
		key, val := p[:idx], p[idx+1:]
		out[key] = coerce(val)
	}
	return out, nil
}

func coerce(val string) interface{} {
	if val == "true" || val == "false" {
		return val == "true"
	}
	if n, err := strconv.ParseInt(val, 10, 64); err == nil {
		return n
	}
	return val
}

func resolveSecret(secret, secretFile string) ([]byte, error) {
	if secretFile != "" {
		raw, err := os.ReadFile(secretFile)
		if err != nil {
			return nil, fmt.Errorf("read secret file: %w", err)
		}
		return []byte(strings.TrimSpace(string(raw))), nil
	}
	if secret == "" {
		return nil, fmt.Errorf("one of -secret or -secret-file is required")
	}
	return []byte(secret), nil
}

// call dials server, seals req as an envelope, writes the length-prefixed
// frame, and reads back the response envelope. Grounded on
// internal/listener's client-facing wire contract (frame.go, server.go).
func call(server, clusterName string, secret []byte, self, action string, options map[string]interface{}, timeout time.Duration) (*listener.Response, error) {
	conn, err := net.DialTimeout("tcp", server, timeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", server, err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(timeout))

	req := listener.Request{Action: action, Options: options, Node: self}
	env, err := crypt.SealJSON(secret, clusterName, self, req)
	if err != nil {
		return nil, fmt.Errorf("seal request: %w", err)
	}
	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	if err := writeFrame(conn, body); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	raw, err := readFrame(conn)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	var respEnv crypt.Envelope
	if err := json.Unmarshal(raw, &respEnv); err != nil {
		return nil, fmt.Errorf("decode response envelope: %w", err)
	}
	var resp listener.Response
	if err := crypt.OpenJSON(secret, clusterName, respEnv, &resp); err != nil {
		return nil, fmt.Errorf("open response envelope: %w", err)
	}
	return &resp, nil
}

func printResponse(resp *listener.Response) {
	if resp.Status != 0 {
		fmt.Fprintf(os.Stderr, "error: %s\n", resp.Error)
		if resp.Traceback != "" {
			fmt.Fprintln(os.Stderr, resp.Traceback)
		}
	} else if resp.Data != nil {
		raw, err := json.MarshalIndent(resp.Data, "", "  ")
		if err == nil {
			fmt.Println(string(raw))
		} else {
			fmt.Printf("%v\n", resp.Data)
		}
	}
	for _, info := range resp.Info {
		fmt.Fprintln(os.Stderr, "info:", info)
	}
}
