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

package neighbor

import (
	"net"
	"testing"

	"github.com/open-overlay/p2pkv/wire"
	"github.com/stretchr/testify/require"
)

func TestInsertIdempotent(t *testing.T) {
	tbl := New()
	ep := wire.Endpoint{IP: "127.0.0.1", Port: 5001}
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	require.True(t, tbl.Insert(ep, c1))
	require.False(t, tbl.Insert(ep, c1))
	require.Equal(t, 1, tbl.Len())
}

func TestRemoveAbsentIsNoop(t *testing.T) {
	tbl := New()
	_, ok := tbl.Remove(wire.Endpoint{IP: "127.0.0.1", Port: 9})
	require.False(t, ok)
}

func TestAddThenRemoveLeavesNoEntry(t *testing.T) {
	tbl := New()
	ep := wire.Endpoint{IP: "127.0.0.1", Port: 5001}
	c1, c2 := net.Pipe()
	defer c2.Close()

	require.True(t, tbl.Insert(ep, c1))
	conn, ok := tbl.Remove(ep)
	require.True(t, ok)
	require.Equal(t, c1, conn)
	conn.Close()

	_, ok = tbl.Get(ep)
	require.False(t, ok)
	require.Equal(t, 0, tbl.Len())
}

func TestListPreservesInsertionOrder(t *testing.T) {
	tbl := New()
	eps := []wire.Endpoint{
		{IP: "127.0.0.1", Port: 5001},
		{IP: "127.0.0.1", Port: 5002},
		{IP: "127.0.0.1", Port: 5003},
	}
	for _, ep := range eps {
		c1, c2 := net.Pipe()
		defer c1.Close()
		defer c2.Close()
		tbl.Insert(ep, c1)
	}
	require.Equal(t, eps, tbl.List())

	p, ok := tbl.Pick(1)
	require.True(t, ok)
	require.Equal(t, eps[1], p.Endpoint)

	_, ok = tbl.Pick(99)
	require.False(t, ok)
}

func TestFindBySenderIPAndLastHopPort(t *testing.T) {
	tbl := New()
	ep := wire.Endpoint{IP: "127.0.0.1", Port: 5001}
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()
	tbl.Insert(ep, c1)

	p, ok := tbl.Find("127.0.0.1", 5001)
	require.True(t, ok)
	require.Equal(t, ep, p.Endpoint)

	_, ok = tbl.Find("127.0.0.1", 9999)
	require.False(t, ok)
}
