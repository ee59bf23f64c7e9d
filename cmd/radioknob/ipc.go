package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
)

// ============================================================================
// IPC Server - Unix Domain Socket Interface
// ============================================================================
// Local diagnostics for a headless appliance: radioknob-ctl uses this to
// inspect controller state and to inject the same controller calls the
// hardware pollers make. The socket is the only control surface besides the
// knob itself, and it never leaves the machine.
//
// Protocol: Line-delimited JSON (IPCRequest in, IPCResponse out).
// ============================================================================

// runIPCServer serves the unix domain socket until ctx is canceled, at which
// point it closes the listener and exits.
func runIPCServer(ctx context.Context, socketPath string, ctrl *ModeController, logger *slog.Logger) error {
	// Remove a stale socket file from a previous run.
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	defer listener.Close()
	defer os.Remove(socketPath)

	if err := os.Chmod(socketPath, 0666); err != nil {
		return fmt.Errorf("chmod socket: %w", err)
	}

	logger.Info("IPC listening", "socket", socketPath)

	// Close the listener on shutdown. This unblocks Accept().
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				logger.Debug("IPC listener closed (shutdown)")
				return nil
			}
			if errors.Is(err, net.ErrClosed) || strings.Contains(err.Error(), "use of closed network connection") {
				logger.Debug("IPC listener closed")
				return nil
			}
			logger.Error("IPC accept error", "error", err)
			continue
		}

		go handleIPCConnection(conn, ctrl, logger)
	}
}

// handleIPCConnection serves one client, one request per line.
func handleIPCConnection(conn net.Conn, ctrl *ModeController, logger *slog.Logger) {
	defer conn.Close()

	logger.Debug("IPC connection opened")

	scanner := bufio.NewScanner(conn)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		line := scanner.Text()
		logger.Debug("IPC received", "line", line)

		var req IPCRequest
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			writeIPCResponse(encoder, IPCResponse{Status: "error", Error: fmt.Sprintf("parse request: %v", err)}, logger)
			continue
		}

		writeIPCResponse(encoder, dispatchIPCRequest(ctrl, req), logger)
	}

	logger.Debug("IPC connection closed")
}

// dispatchIPCRequest maps one request onto the controller. Injected events
// go through the exact methods the pollers call, so they obey the same mode
// routing and locking.
func dispatchIPCRequest(ctrl *ModeController, req IPCRequest) IPCResponse {
	var err error
	switch req.Op {
	case "status":
		// Snapshot below.
	case "rotate":
		if req.Delta == 0 {
			return IPCResponse{Status: "error", Error: "rotate requires a non-zero delta"}
		}
		err = ctrl.OnRotate(req.Delta)
	case "press":
		err = ctrl.OnButtonReleased()
	case "longpress":
		err = ctrl.OnButtonLongPress()
	default:
		return IPCResponse{Status: "error", Error: fmt.Sprintf("unknown op: %q", req.Op)}
	}

	if err != nil {
		return IPCResponse{Status: "error", Error: err.Error()}
	}
	snap := ctrl.Snapshot()
	return IPCResponse{Status: "ok", State: &snap}
}

func writeIPCResponse(encoder *json.Encoder, resp IPCResponse, logger *slog.Logger) {
	if err := encoder.Encode(resp); err != nil {
		logger.Error("IPC failed to send response", "error", err)
	}
}
