// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package protocol implements the chunk protocol spoken between the chat
// server and its streaming clients.
//
// Every event is one line of the form
//
//	data: {"type":"ai_chunk","content":"Hel","fullContent":"Hel"}
//
// followed by a blank line. The stream ends with the literal sentinel
// "data: [DONE]".
//
// # Key Types
//
//   - Event: sealed sum type of all event kinds, with Unknown as fallback
//   - Decoder: incremental decoder with a persistent line buffer
//
// # Usage
//
//	dec := protocol.NewDecoder()
//	for _, ev := range dec.Feed(chunk) {
//	    switch e := ev.(type) {
//	    case *protocol.AIChunk:
//	        fmt.Print(e.Content)
//	    }
//	}
package protocol
