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

package overlay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/open-overlay/p2pkv/wire"
)

// bootstrapDialTimeout is the connect timeout applied only to the
// initial bootstrap dial against the statically configured neighbor
// list; it is the one explicit timeout this protocol defines.
const bootstrapDialTimeout = 500 * time.Millisecond

// syncConn wraps a net.Conn so that writes from different goroutines
// (a forwarding send racing a confirmation reply on the same socket)
// never interleave. Reads are never concurrent -- one reader activity
// per connection owns them exclusively.
type syncConn struct {
	net.Conn
	writeMu sync.Mutex
}

func wrapConn(c net.Conn) *syncConn {
	return &syncConn{Conn: c}
}

func (c *syncConn) Write(b []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.Conn.Write(b)
}

// acceptLoop runs the Connection Manager's inbound side: accept,
// then spawn one reader activity per accepted socket. It returns when
// the listener is closed or ctx is canceled.
func (n *Node) acceptLoop(ctx context.Context) error {
	for {
		conn, err := n.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("overlay: accept failed: %w", err)
		}
		n.log.Debugf("accepted connection from %s", conn.RemoteAddr())
		go n.handleConn(wrapConn(conn))
	}
}

// dialAndRegister dials ep with the reference's 500ms bootstrap
// timeout and, on success, registers the connection as ep's Peer and
// starts its reader activity. Refusals and timeouts are logged and
// skipped -- the node continues regardless.
func (n *Node) dialAndRegister(ep wire.Endpoint) (*syncConn, bool) {
	conn, err := net.DialTimeout("tcp", ep.String(), bootstrapDialTimeout)
	if err != nil {
		n.log.Warnf("dialing %s failed: %v", ep, err)
		return nil, false
	}
	wrapped := wrapConn(conn)
	if !n.neighbors.Insert(ep, wrapped) {
		n.log.Debugf("neighbor %s already present, closing redundant dial", ep)
		conn.Close()
		return nil, false
	}
	go n.handleConn(wrapped)
	return wrapped, true
}

// dialNeighbor dials and registers ep, then sends it the initial
// HELLO -- the reference's connect_to_neighbors behavior, used for
// the bootstrap neighbors given to New.
func (n *Node) dialNeighbor(ep wire.Endpoint) {
	if _, ok := n.dialAndRegister(ep); ok {
		if err := n.sendHello(ep); err != nil {
			n.log.Warnf("sending initial HELLO to %s failed: %v", ep, err)
		}
	}
}

// dialBack dials and registers ep in response to an inbound HELLO,
// the reference's add_neighbor behavior: a fresh outbound socket
// becomes the Peer, with no reciprocal HELLO sent.
func (n *Node) dialBack(ep wire.Endpoint) {
	n.dialAndRegister(ep)
}

// handleConn is the reader activity for one connection: it decodes one
// record at a time, dispatches it, then (for non-confirmations) emits
// the wire confirmation and records the message in the Seen Filter
// (BYE excepted).
// EOF, reset, or a framing error terminates the reader, closes the
// socket, and removes any Peer still pointing at it.
func (n *Node) handleConn(conn *syncConn) {
	remoteIP, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		remoteIP = conn.RemoteAddr().String()
	}
	reader := wire.NewReader(conn)

	for {
		record, err := reader.ReadRecord()
		if err != nil {
			n.log.Debugf("reader for %s exiting: %v", conn.RemoteAddr(), err)
			break
		}

		if opName, ok := wire.IsConfirmation(record); ok {
			n.log.Debugf("received confirmation %s from %s", opName, conn.RemoteAddr())
			continue
		}

		msg, err := wire.Decode(record)
		if err != nil {
			n.log.Warnf("malformed message from %s: %v", conn.RemoteAddr(), err)
			continue
		}

		n.dispatch(msg, remoteIP)

		if err := wire.WriteRecord(conn, wire.Confirmation(msg.Op())); err != nil {
			n.log.Warnf("sending confirmation to %s failed: %v", conn.RemoteAddr(), err)
		}
		// A BYE is not recorded: handleBye has just forgotten its origin.
		if msg.Origin() != n.self && msg.Op() != wire.OpBye {
			n.seenFilter.Record(msg.Origin().String(), msg.Seqno())
		}
	}

	n.removeByConn(conn)
	conn.Close()
}

// removeByConn removes whichever neighbor table entry still points at
// conn, if any -- a reader exiting doesn't necessarily mean a prior
// BYE already removed the peer.
func (n *Node) removeByConn(conn net.Conn) {
	for _, ep := range n.neighbors.List() {
		if p, ok := n.neighbors.Get(ep); ok && p.Conn == conn {
			n.neighbors.Remove(ep)
			n.seenFilter.Forget(ep.String())
			return
		}
	}
}
