/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package wire

import (
	"fmt"
	"strconv"
	"strings"
)

// MaxLineLength bounds a single framed record, well above the minimum
// 1024 bytes a conforming peer must accept.
const MaxLineLength = 64 * 1024

// confirmationSuffix is appended to an Op name to build a confirmation token.
const confirmationSuffix = "_OK"

// IsConfirmation reports whether a raw record is a confirmation token
// (e.g. "HELLO_OK"), and if so returns the acknowledged Op name.
func IsConfirmation(record string) (opName string, ok bool) {
	if !strings.HasSuffix(record, confirmationSuffix) {
		return "", false
	}
	return strings.TrimSuffix(record, confirmationSuffix), true
}

// Confirmation crafts the acknowledgement token for an Op.
func Confirmation(op Op) string {
	return op.String() + confirmationSuffix
}

// Encode renders a Message as its deterministic wire record: fields
// separated by a single space, no trailing newline.
func Encode(m Message) (string, error) {
	switch msg := m.(type) {
	case Hello:
		return fmt.Sprintf("%s %d 1 HELLO", msg.From, msg.Seq), nil
	case Bye:
		return fmt.Sprintf("%s %d 1 BYE", msg.From, msg.Seq), nil
	case Search:
		return fmt.Sprintf("%s %d %d SEARCH %s %d %s %d",
			msg.From, msg.Seq, msg.TTL, msg.Mode, msg.LastHopPort, msg.Key, msg.HopCount), nil
	case Value:
		return fmt.Sprintf("%s %d %d VAL %s %s %s %d",
			msg.From, msg.Seq, msg.TTL, msg.Mode, msg.Key, msg.Value, msg.HopCount), nil
	default:
		return "", fmt.Errorf("wire: encode: unsupported message type %T", m)
	}
}

// Decode parses a non-confirmation record into its tagged variant.
// Callers must check IsConfirmation first; Decode rejects confirmation
// tokens outright.
func Decode(record string) (Message, error) {
	if _, ok := IsConfirmation(record); ok {
		return nil, fmt.Errorf("wire: decode: %q is a confirmation, not a message", record)
	}

	fields := strings.Fields(record)
	if len(fields) < 4 {
		return nil, fmt.Errorf("wire: decode: record %q too short", record)
	}

	origin, err := ParseEndpoint(fields[0])
	if err != nil {
		return nil, fmt.Errorf("wire: decode: %w", err)
	}
	seq, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("wire: decode: invalid seqno %q: %w", fields[1], err)
	}
	ttl, err := strconv.Atoi(fields[2])
	if err != nil {
		return nil, fmt.Errorf("wire: decode: invalid ttl %q: %w", fields[2], err)
	}

	switch fields[3] {
	case "HELLO":
		return Hello{From: origin, Seq: seq}, nil
	case "BYE":
		return Bye{From: origin, Seq: seq}, nil
	case "SEARCH":
		if len(fields) != 8 {
			return nil, fmt.Errorf("wire: decode: SEARCH record %q has %d fields, want 8", record, len(fields))
		}
		mode, err := ParseMode(fields[4])
		if err != nil {
			return nil, fmt.Errorf("wire: decode: %w", err)
		}
		lastHopPort, err := strconv.Atoi(fields[5])
		if err != nil {
			return nil, fmt.Errorf("wire: decode: invalid last_hop_port %q: %w", fields[5], err)
		}
		hopCount, err := strconv.Atoi(fields[7])
		if err != nil {
			return nil, fmt.Errorf("wire: decode: invalid hop_count %q: %w", fields[7], err)
		}
		return Search{
			From:        origin,
			Seq:         seq,
			TTL:         ttl,
			Mode:        mode,
			LastHopPort: lastHopPort,
			Key:         fields[6],
			HopCount:    hopCount,
		}, nil
	case "VAL":
		if len(fields) != 8 {
			return nil, fmt.Errorf("wire: decode: VAL record %q has %d fields, want 8", record, len(fields))
		}
		mode, err := ParseMode(fields[4])
		if err != nil {
			return nil, fmt.Errorf("wire: decode: %w", err)
		}
		hopCount, err := strconv.Atoi(fields[7])
		if err != nil {
			return nil, fmt.Errorf("wire: decode: invalid hop_count %q: %w", fields[7], err)
		}
		return Value{
			From:     origin,
			Seq:      seq,
			TTL:      ttl,
			Mode:     mode,
			Key:      fields[5],
			Value:    fields[6],
			HopCount: hopCount,
		}, nil
	default:
		return nil, fmt.Errorf("wire: decode: unknown op %q", fields[3])
	}
}
