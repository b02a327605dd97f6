// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the orchat command line.
//
// # Commands
//
//   - serve: Run the HTTP API server
//   - chat: Interactive REPL against a running server
//   - ask: One-shot question, streamed or not
//   - models: Model registry or the OpenRouter catalog
//   - threads: List, show, export, rename, pin and delete threads
//   - usage: Token and cost totals recorded by the server
//   - config: Show, get and set configuration values
//   - version: Print version information
//
// Every command accepts --json, which wraps its output in a JSONResponse
// envelope.
//
// # Usage
//
//	func main() {
//		os.Exit(cli.Execute())
//	}
package cli
