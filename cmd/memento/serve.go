package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/foundrylabs/memento/internal/facade"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the JSON-RPC tool server over stdin/stdout",
	RunE: func(cmd *cobra.Command, args []string) error {
		f, _, resil, err := buildFacade()
		if err != nil {
			return err
		}
		defer resil.Shutdown()
		return serveLoop(cmd.InOrStdin(), cmd.OutOrStdout(), f)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// serveLoop implements the minimal reference transport: one JSON
// object per line in, one JSON object per line out.
func serveLoop(in io.Reader, out io.Writer, f *facade.Facade) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	enc := json.NewEncoder(out)

	initialized := false

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req rpcRequest
		if err := json.Unmarshal(line, &req); err != nil {
			_ = enc.Encode(rpcResponse{Error: &rpcError{Code: codeInvalidParams, Message: "malformed json-rpc request"}})
			continue
		}

		if req.Method == "initialize" {
			if req.ProtocolVersion != "" && req.ProtocolVersion != protocolVersion {
				_ = enc.Encode(rpcResponse{ID: req.ID, Error: &rpcError{
					Code:    codeInvalidParams,
					Message: "Protocol version mismatch",
					Data:    map[string]any{"expected": protocolVersion, "received": req.ProtocolVersion},
				}})
				continue
			}
			initialized = true
			_ = enc.Encode(rpcResponse{ID: req.ID, Result: &facade.Response{
				StructuredContent: map[string]any{"protocol_version": protocolVersion},
			}})
			continue
		}

		if !initialized {
			_ = enc.Encode(rpcResponse{ID: req.ID, Error: &rpcError{Code: codeInvalidParams, Message: "must call initialize first"}})
			continue
		}

		if !f.HasTool(req.Method) {
			_ = enc.Encode(rpcResponse{ID: req.ID, Error: unknownMethodError(req.Method)})
			continue
		}

		resp, err := f.Call(facade.Request{Tool: req.Method, Args: req.Args})
		if err != nil {
			_ = enc.Encode(rpcResponse{ID: req.ID, Error: mapError(err)})
			continue
		}
		_ = enc.Encode(rpcResponse{ID: req.ID, Result: &resp})
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading request stream: %w", err)
	}
	return nil
}
