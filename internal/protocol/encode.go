// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package protocol

import (
	"fmt"
	"io"
)

// Wire framing.
const (
	// DataPrefix starts every record line.
	DataPrefix = "data: "
	// DoneSentinel is the payload of the terminating record.
	DoneSentinel = "[DONE]"
)

// Encode writes one framed event: "data: <json>\n\n".
func Encode(w io.Writer, ev Event) error {
	payload, err := Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s%s\n\n", DataPrefix, payload)
	return err
}

// EncodeDone writes the end-of-stream sentinel.
func EncodeDone(w io.Writer) error {
	_, err := io.WriteString(w, DataPrefix+DoneSentinel+"\n\n")
	return err
}
