package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"github.com/fatih/color"
	"github.com/sushant-115/domstore/core/domstore"
	pagemanager "github.com/sushant-115/domstore/core/write_engine/page_manager"
)

const defaultScanLimit = 20

var errQuit = errors.New("quit")

// shell runs inspection commands against one open store. All values are
// written by a single session owner.
type shell struct {
	store *domstore.Store
	owner domstore.Owner
	out   io.Writer

	ok   *color.Color
	warn *color.Color
	fail *color.Color
}

func newShell(store *domstore.Store, out io.Writer) *shell {
	return &shell{
		store: store,
		owner: domstore.NewOwner(),
		out:   out,
		ok:    color.New(color.FgGreen),
		warn:  color.New(color.FgYellow),
		fail:  color.New(color.FgRed, color.Bold),
	}
}

var commandHelp = []struct{ usage, desc string }{
	{"append <text>", "append a value to the session chain"},
	{"insert <page:tid> <text>", "insert a value behind an address"},
	{"get <page:tid>", "print the value at an address"},
	{"remove <page:tid>", "remove the value at an address"},
	{"update <page:tid> <text>", "overwrite a value of the same length"},
	{"dump <page>", "print the header and records of a page"},
	{"chain <page>", "list the pages of a chain"},
	{"scan <page:tid> [n]", "print up to n values from an address on"},
	{"value <page:tid> [ws]", "print the string value of a stored node"},
	{"flush", "write dirty pages and the journal"},
	{"checkpoint", "flush and record a checkpoint"},
	{"snapshot <dir>", "copy data file and journal to dir"},
	{"stats", "print store statistics"},
	{"help", "print this list"},
	{"quit", "leave the shell"},
}

// exec runs one command line. It returns errQuit for quit and exit.
func (sh *shell) exec(ctx context.Context, line string) error {
	cmd, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	rest = strings.TrimSpace(rest)
	switch strings.ToLower(cmd) {
	case "":
		return nil
	case "append":
		if rest == "" {
			return fmt.Errorf("append requires a value")
		}
		addr, err := sh.store.Append(nil, sh.owner, []byte(rest))
		if err != nil {
			return err
		}
		sh.ok.Fprintf(sh.out, "stored at %s\n", addr)
	case "insert":
		addr, text, err := addrAndText(rest)
		if err != nil {
			return err
		}
		newAddr, err := sh.store.InsertAfter(nil, sh.owner, addr, []byte(text))
		if err != nil {
			return err
		}
		sh.ok.Fprintf(sh.out, "stored at %s\n", newAddr)
	case "get":
		addr, err := pagemanager.ParseAddress(rest)
		if err != nil {
			return err
		}
		v, err := sh.store.Get(addr)
		if err != nil {
			return err
		}
		if v == nil {
			sh.warn.Fprintf(sh.out, "no value at %s\n", addr)
			return nil
		}
		fmt.Fprintf(sh.out, "%q\n", v)
	case "remove":
		addr, err := pagemanager.ParseAddress(rest)
		if err != nil {
			return err
		}
		if err := sh.store.Remove(nil, addr); err != nil {
			return err
		}
		sh.ok.Fprintf(sh.out, "removed %s\n", addr)
	case "update":
		addr, text, err := addrAndText(rest)
		if err != nil {
			return err
		}
		if err := sh.store.Update(nil, addr, []byte(text)); err != nil {
			return err
		}
		sh.ok.Fprintf(sh.out, "updated %s\n", addr)
	case "dump":
		page, err := parsePage(rest)
		if err != nil {
			return err
		}
		out, err := sh.store.DumpPage(page)
		if err != nil {
			return err
		}
		fmt.Fprint(sh.out, out)
	case "chain":
		page, err := parsePage(rest)
		if err != nil {
			return err
		}
		chain, err := sh.store.PageChain(page)
		if err != nil {
			return err
		}
		ids := make([]string, len(chain))
		for i, id := range chain {
			ids[i] = strconv.FormatUint(uint64(id), 10)
		}
		fmt.Fprintf(sh.out, "%s (%d pages)\n", strings.Join(ids, " -> "), len(chain))
	case "scan":
		return sh.scan(rest)
	case "value":
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			return fmt.Errorf("value requires an address")
		}
		addr, err := pagemanager.ParseAddress(fields[0])
		if err != nil {
			return err
		}
		v, err := sh.store.GetNodeValue(addr, len(fields) > 1 && fields[1] == "ws")
		if err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "%q\n", v)
	case "flush":
		if err := sh.store.Flush(); err != nil {
			return err
		}
		sh.ok.Fprintln(sh.out, "flushed")
	case "checkpoint":
		if err := sh.store.Checkpoint(ctx); err != nil {
			return err
		}
		sh.ok.Fprintln(sh.out, "checkpoint written")
	case "snapshot":
		if rest == "" {
			return fmt.Errorf("snapshot requires a directory")
		}
		info, err := sh.store.Snapshot(ctx, rest)
		if err != nil {
			return err
		}
		for _, f := range info.Files {
			fmt.Fprintf(sh.out, "%s %d bytes xxhash=%016x\n", f.Path, f.Bytes, f.Checksum)
		}
		sh.ok.Fprintf(sh.out, "snapshot at lsn %d\n", info.LSN)
	case "stats":
		spew.Fdump(sh.out, sh.store.Stats())
	case "help":
		for _, h := range commandHelp {
			fmt.Fprintf(sh.out, "  %-26s %s\n", h.usage, h.desc)
		}
	case "quit", "exit":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q, type help for a list", cmd)
	}
	return nil
}

func (sh *shell) scan(args string) error {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return fmt.Errorf("scan requires an address")
	}
	addr, err := pagemanager.ParseAddress(fields[0])
	if err != nil {
		return err
	}
	limit := defaultScanLimit
	if len(fields) > 1 {
		if limit, err = strconv.Atoi(fields[1]); err != nil || limit <= 0 {
			return fmt.Errorf("scan limit %q must be a positive number", fields[1])
		}
	}
	it, err := sh.store.NewRawIterator(addr)
	if err != nil {
		return err
	}
	defer it.Close()
	n := 0
	for ; n < limit && it.Next(); n++ {
		fmt.Fprintf(sh.out, "%-12s %q\n", it.Address(), it.Value())
	}
	if err := it.Err(); err != nil {
		return err
	}
	if n == limit {
		sh.warn.Fprintf(sh.out, "stopped after %d values\n", limit)
	}
	return nil
}

// report prints the outcome of a failed command.
func (sh *shell) report(err error) {
	sh.fail.Fprintf(sh.out, "error: %v\n", err)
}

func addrAndText(args string) (pagemanager.Address, string, error) {
	addrStr, text, _ := strings.Cut(args, " ")
	addr, err := pagemanager.ParseAddress(addrStr)
	if err != nil {
		return pagemanager.InvalidAddress, "", err
	}
	if text = strings.TrimSpace(text); text == "" {
		return pagemanager.InvalidAddress, "", fmt.Errorf("a value is required after %s", addr)
	}
	return addr, text, nil
}

func parsePage(s string) (pagemanager.PageID, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil || id == 0 {
		return pagemanager.InvalidPageID, fmt.Errorf("bad page number %q", s)
	}
	return pagemanager.PageID(id), nil
}
