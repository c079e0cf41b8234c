package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output.
var printlnFn = fmt.Println

// execIface is the command surface the REPL dispatches to. App implements
// it; tests use a stub.
type execIface interface {
	Add(ctx context.Context, args []string) error
	Upload(ctx context.Context, args []string) error
	Pending(ctx context.Context) error
	Edit(ctx context.Context, args []string) error
	Push(ctx context.Context, args []string) error
	Sync(ctx context.Context) error
	Status(ctx context.Context) error
	List(ctx context.Context) error
	Fetch(ctx context.Context, args []string) error
	Count(ctx context.Context, args []string) error
	Video(ctx context.Context, args []string) error
	Thumb(ctx context.Context, args []string) error
	Clean(ctx context.Context) error
	Reclaim(ctx context.Context) error
	Delete(ctx context.Context, args []string) error
}

const helpText = "Available commands: add <path>, upload <id>, pending, edit <id>, push [id...], sync, status, (l)ist, fetch <remote id>, " +
	"count [type...], video <id>, thumb <id> [WxH], clean, reclaim, delete <id>, exit"

// runREPL reads commands from scanner until EOF, "exit" or "quit", or ctx
// is done. Handlers report their own errors; the loop only keeps going.
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	for {
		if ctx.Err() != nil {
			return
		}
		printlnFn(fmt.Sprintf("ms %s> ", statusFn()))
		if !scanner.Scan() {
			return
		}
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		var err error
		switch cmd {
		case "help":
			printlnFn(helpText)
		case "add":
			err = a.Add(ctx, args)
		case "upload":
			err = a.Upload(ctx, args)
		case "pending":
			err = a.Pending(ctx)
		case "edit":
			err = a.Edit(ctx, args)
		case "push":
			err = a.Push(ctx, args)
		case "sync":
			err = a.Sync(ctx)
		case "status":
			err = a.Status(ctx)
		case "l", "list":
			err = a.List(ctx)
		case "fetch":
			err = a.Fetch(ctx, args)
		case "count":
			err = a.Count(ctx, args)
		case "video":
			err = a.Video(ctx, args)
		case "thumb":
			err = a.Thumb(ctx, args)
		case "clean":
			err = a.Clean(ctx)
		case "reclaim":
			err = a.Reclaim(ctx)
		case "delete", "rm":
			err = a.Delete(ctx, args)
		case "exit", "quit":
			printlnFn("Bye!")
			return
		default:
			printlnFn("Unknown command:", cmd)
		}
		if err != nil {
			printlnFn("error:", err)
		}
	}
}
