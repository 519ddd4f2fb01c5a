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

// Package console drives the interactive menu: it prints the numbered
// actions, reads one line of stdin at a time, dispatches to the
// overlay.Node, and prints asynchronous search results as they arrive
// on a separate goroutine.
package console

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/open-overlay/p2pkv/search"
	"github.com/open-overlay/p2pkv/wire"
)

const maxColWidth = 60

var (
	errString = color.RedString("[ERR ]")
	okString  = color.GreenString("[ OK ]")
)

const menu = `
0) list neighbors
1) send HELLO
2) search (flooding)
3) search (random walk)
4) search (depth-first)
5) show statistics
6) change default TTL
7) show node info
9) quit
> `

// Console owns the menu loop. Construct with New and run with Run.
type Console struct {
	node Backend
	in   *bufio.Scanner
	out  io.Writer
}

// Snapshot mirrors stats.Snapshot's shape without importing it
// directly, keeping console decoupled from the stats package's
// internal accumulator type.
type Snapshot struct {
	MessagesSeen uint64
	Samples      int
	Mean         float64
	Stddev       float64
}

// Backend is the real overlay.Node wiring point, implemented by
// adapting *overlay.Node in cmd/p2pkv/cmd/root.go.
type Backend struct {
	ListNeighbors      func() []wire.Endpoint
	SendHello          func(index int) error
	StartSearch        func(mode wire.Mode, key string) error
	StatisticsSnapshot func() map[wire.Mode]Snapshot
	SetDefaultTTL      func(v int) error
	DefaultTTL         func() int
	Results            func() <-chan search.Result
	QuitAll            func()
	Self               func() wire.Endpoint
	LocalData          func() map[string]string
}

// New builds a Console reading from in and writing to out, backed by b.
func New(b Backend, in io.Reader, out io.Writer) *Console {
	return &Console{
		node: b,
		in:   bufio.NewScanner(in),
		out:  out,
	}
}

// Run prints results as they arrive in the background and drives the
// menu loop on the calling goroutine until the user picks 9 (quit) or
// stdin closes.
func (c *Console) Run() {
	go c.printResults()

	for {
		fmt.Fprint(c.out, menu)
		if !c.in.Scan() {
			return
		}
		if c.dispatch(strings.TrimSpace(c.in.Text())) {
			return
		}
	}
}

func (c *Console) printResults() {
	for r := range c.node.Results() {
		switch r.Kind {
		case search.ResultValueFound:
			fmt.Fprintf(c.out, "%s %s(%q) = %q after %d hop(s)\n", okString, r.Mode, r.Key, r.Value, r.HopCount)
		case search.ResultKeyNotFound:
			fmt.Fprintf(c.out, "%s %s(%q) not found\n", errString, r.Mode, r.Key)
		case search.ResultDuplicateValue:
			fmt.Fprintf(c.out, "%s %s(%q) returned a value already held locally\n", errString, r.Mode, r.Key)
		}
	}
}

// dispatch handles one menu line; the return value reports whether the
// console should stop (the user picked quit).
func (c *Console) dispatch(line string) bool {
	switch line {
	case "0":
		c.listNeighbors()
	case "1":
		c.sendHello()
	case "2":
		c.search(wire.ModeFlooding)
	case "3":
		c.search(wire.ModeRandomWalk)
	case "4":
		c.search(wire.ModeDepthFirst)
	case "5":
		c.showStatistics()
	case "6":
		c.changeTTL()
	case "7":
		c.printNode()
	case "9":
		c.node.QuitAll()
		return true
	default:
		fmt.Fprintf(c.out, "%s unrecognized option %q\n", errString, line)
	}
	return false
}

func (c *Console) listNeighbors() {
	neighbors := c.node.ListNeighbors()
	table := tablewriter.NewWriter(c.out)
	table.SetColWidth(maxColWidth)
	table.SetHeader([]string{"index", "endpoint"})
	for i, ep := range neighbors {
		table.Append([]string{strconv.Itoa(i), ep.String()})
	}
	table.Render()
}

// printNode is the diagnostic dump of menu option 7: self endpoint,
// the full neighbor table, and the local key-value table.
func (c *Console) printNode() {
	fmt.Fprintf(c.out, "self: %s\n", c.node.Self())
	c.listNeighbors()
	fmt.Fprintln(c.out, "local data:")
	table := tablewriter.NewWriter(c.out)
	table.SetColWidth(maxColWidth)
	table.SetHeader([]string{"key", "value"})
	for k, v := range c.node.LocalData() {
		table.Append([]string{k, v})
	}
	table.Render()
}

func (c *Console) promptInt(label string) (int, bool) {
	fmt.Fprintf(c.out, "%s: ", label)
	if !c.in.Scan() {
		return 0, false
	}
	v, err := strconv.Atoi(strings.TrimSpace(c.in.Text()))
	if err != nil {
		fmt.Fprintf(c.out, "%s %v\n", errString, err)
		return 0, false
	}
	return v, true
}

func (c *Console) promptString(label string) (string, bool) {
	fmt.Fprintf(c.out, "%s: ", label)
	if !c.in.Scan() {
		return "", false
	}
	return strings.TrimSpace(c.in.Text()), true
}

func (c *Console) sendHello() {
	idx, ok := c.promptInt("neighbor index")
	if !ok {
		return
	}
	if err := c.node.SendHello(idx); err != nil {
		fmt.Fprintf(c.out, "%s %v\n", errString, err)
		return
	}
	fmt.Fprintf(c.out, "%s HELLO sent\n", okString)
}

func (c *Console) search(mode wire.Mode) {
	key, ok := c.promptString("key")
	if !ok {
		return
	}
	if err := c.node.StartSearch(mode, key); err != nil {
		fmt.Fprintf(c.out, "%s %v\n", errString, err)
	}
}

func (c *Console) showStatistics() {
	snap := c.node.StatisticsSnapshot()
	table := tablewriter.NewWriter(c.out)
	table.SetColWidth(maxColWidth)
	table.SetHeader([]string{"mode", "messages seen", "samples", "mean hops", "stddev hops"})
	for _, mode := range []wire.Mode{wire.ModeFlooding, wire.ModeRandomWalk, wire.ModeDepthFirst} {
		s := snap[mode]
		table.Append([]string{
			mode.String(),
			strconv.FormatUint(s.MessagesSeen, 10),
			strconv.Itoa(s.Samples),
			strconv.FormatFloat(s.Mean, 'f', 3, 64),
			strconv.FormatFloat(s.Stddev, 'f', 3, 64),
		})
	}
	table.Render()
}

func (c *Console) changeTTL() {
	v, ok := c.promptInt("new default TTL")
	if !ok {
		return
	}
	if err := c.node.SetDefaultTTL(v); err != nil {
		fmt.Fprintf(c.out, "%s %v\n", errString, err)
		return
	}
	fmt.Fprintf(c.out, "%s default TTL is now %d\n", okString, v)
}

// Stdio builds a Console wired to os.Stdin/os.Stdout, the shape
// cmd/p2pkv actually runs.
func Stdio(b Backend) *Console {
	return New(b, os.Stdin, os.Stdout)
}
