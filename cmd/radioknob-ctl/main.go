package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// ============================================================================
// radioknob-ctl - Command-line client for the radioknob daemon
// ============================================================================
// Talks to the daemon over its unix IPC socket, or tails the status
// websocket feed.
//
// Usage:
//   radioknob-ctl status [-json]
//   radioknob-ctl rotate <delta>
//   radioknob-ctl press
//   radioknob-ctl longpress
//   radioknob-ctl watch [-addr HOST:PORT] [-json]
//
// Options:
//   -socket PATH    Unix domain socket path (default: /tmp/radioknob.sock)
// ============================================================================

const (
	defaultSocketPath = "/tmp/radioknob.sock"
	defaultWatchAddr  = "127.0.0.1:8090"
)

// Wire types (duplicated from the daemon package for a standalone binary).

type ipcRequest struct {
	Op    string `json:"op"`
	Delta int    `json:"delta,omitempty"`
}

type stateSnapshot struct {
	Mode     string `json:"mode"`
	Volume   int    `json:"volume"`
	TrackAcc int    `json:"track_acc"`
}

type ipcResponse struct {
	Status string          `json:"status"`
	Error  string          `json:"error,omitempty"`
	State  *stateSnapshot  `json:"state,omitempty"`
	Raw    json.RawMessage `json:"-"`
}

func printUsage() {
	fmt.Println("radioknob-ctl - control and inspect the radioknob daemon")
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  radioknob-ctl [-socket PATH] COMMAND [ARGS]")
	fmt.Println()
	fmt.Println("COMMANDS:")
	fmt.Println("  status [-json]          Show current mode, volume and track accumulator")
	fmt.Println("  rotate <delta>          Inject a rotation (signed step count)")
	fmt.Println("  press                   Inject a short button press")
	fmt.Println("  longpress               Inject a long button press")
	fmt.Println("  watch [-addr A] [-json] Tail the status websocket feed")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Printf("  -socket PATH   Unix domain socket path (default %q)\n", defaultSocketPath)
}

func main() {
	socketPath := defaultSocketPath

	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	if args[0] == "-socket" || args[0] == "--socket" {
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "error: -socket requires an argument")
			os.Exit(1)
		}
		socketPath = args[1]
		args = args[2:]
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "status":
		fs := flag.NewFlagSet("status", flag.ExitOnError)
		asJSON := fs.Bool("json", false, "Print the raw JSON response")
		fs.Parse(args[1:])
		runStatus(socketPath, *asJSON)

	case "rotate":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "error: rotate requires a delta")
			os.Exit(1)
		}
		delta, err := strconv.Atoi(args[1])
		if err != nil || delta == 0 {
			fmt.Fprintf(os.Stderr, "error: invalid delta %q (must be a non-zero integer)\n", args[1])
			os.Exit(1)
		}
		runInject(socketPath, ipcRequest{Op: "rotate", Delta: delta})

	case "press":
		runInject(socketPath, ipcRequest{Op: "press"})

	case "longpress":
		runInject(socketPath, ipcRequest{Op: "longpress"})

	case "watch":
		fs := flag.NewFlagSet("watch", flag.ExitOnError)
		addr := fs.String("addr", defaultWatchAddr, "Status websocket address (host:port)")
		asJSON := fs.Bool("json", false, "Print raw JSON envelopes")
		fs.Parse(args[1:])
		runWatch(*addr, *asJSON)

	case "help", "-h", "--help":
		printUsage()

	default:
		fmt.Fprintf(os.Stderr, "error: unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

// sendRequest performs one request/response round trip over the socket.
func sendRequest(socketPath string, req ipcRequest) (ipcResponse, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return ipcResponse{}, fmt.Errorf("connect to %s: %w (is radioknob running?)", socketPath, err)
	}
	defer conn.Close()

	data, err := json.Marshal(req)
	if err != nil {
		return ipcResponse{}, fmt.Errorf("marshal request: %w", err)
	}
	if _, err := fmt.Fprintf(conn, "%s\n", data); err != nil {
		return ipcResponse{}, fmt.Errorf("send request: %w", err)
	}

	var raw json.RawMessage
	if err := json.NewDecoder(conn).Decode(&raw); err != nil {
		return ipcResponse{}, fmt.Errorf("decode response: %w", err)
	}

	var resp ipcResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return ipcResponse{}, fmt.Errorf("decode response: %w", err)
	}
	resp.Raw = raw

	if resp.Status != "ok" {
		return resp, fmt.Errorf("daemon error: %s", resp.Error)
	}
	return resp, nil
}

func runStatus(socketPath string, asJSON bool) {
	resp, err := sendRequest(socketPath, ipcRequest{Op: "status"})
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	if asJSON {
		fmt.Println(string(resp.Raw))
		return
	}
	if resp.State == nil {
		fmt.Fprintln(os.Stderr, "error: daemon response carried no state")
		os.Exit(1)
	}
	fmt.Printf("mode:      %s\n", resp.State.Mode)
	fmt.Printf("volume:    %d\n", resp.State.Volume)
	fmt.Printf("track acc: %d\n", resp.State.TrackAcc)
}

func runInject(socketPath string, req ipcRequest) {
	resp, err := sendRequest(socketPath, req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	if resp.State != nil {
		fmt.Printf("ok (mode=%s volume=%d track_acc=%d)\n", resp.State.Mode, resp.State.Volume, resp.State.TrackAcc)
		return
	}
	fmt.Println("ok")
}

// wsEnvelope mirrors the daemon's feed envelope.
type wsEnvelope struct {
	Type string          `json:"type"`
	Ts   *time.Time      `json:"ts,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// runWatch tails the status feed until interrupted.
func runWatch(addr string, asJSON bool) {
	u := url.URL{Scheme: "ws", Host: addr, Path: "/ws"}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	d := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: connect to %s: %v\n", u.String(), err)
		os.Exit(1)
	}
	defer conn.Close()

	fmt.Fprintf(os.Stderr, "connected to %s (press Ctrl+C to exit)\n", u.String())

	// Writes come from both the ping ticker and the close path.
	var writeMu sync.Mutex

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	pingTicker := time.NewTicker(20 * time.Second)
	defer pingTicker.Stop()
	go func() {
		for range pingTicker.C {
			writeMu.Lock()
			err := conn.WriteMessage(websocket.PingMessage, nil)
			writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}()

	go func() {
		<-sigc
		writeMu.Lock()
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		writeMu.Unlock()
		conn.Close()
		os.Exit(0)
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: read: %v\n", err)
			os.Exit(1)
		}

		if asJSON {
			fmt.Println(string(msg))
			continue
		}

		var env wsEnvelope
		if err := json.Unmarshal(msg, &env); err != nil {
			fmt.Fprintf(os.Stderr, "warning: bad envelope: %v\n", err)
			continue
		}
		ts := ""
		if env.Ts != nil {
			ts = env.Ts.Local().Format("15:04:05.000") + " "
		}
		fmt.Printf("%s%-14s %s\n", ts, env.Type, string(env.Data))
	}
}
