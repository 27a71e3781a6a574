package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dmitrijs2005/memovault/internal/common"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface defines the command surface the REPL dispatches to.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	Add(ctx context.Context, args []string) error
	Edit(ctx context.Context, args []string) error
	Tag(ctx context.Context, args []string) error
	Delete(ctx context.Context, args []string) error
	Show(ctx context.Context, args []string) error
	List(ctx context.Context, args []string) error
	Search(ctx context.Context, args []string) error
	Attach(ctx context.Context, args []string) error
	Sync(ctx context.Context, args []string) error
	Queue(ctx context.Context, args []string) error
	Conflicts(ctx context.Context, args []string) error
	Export(ctx context.Context, args []string) error
	Import(ctx context.Context, args []string) error
	Archives(ctx context.Context, args []string) error
	Reindex(ctx context.Context, args []string) error
}

const helpText = `Available commands:
  add [mediaType]            create a record (text, web, image, pdf, markdown, video, audio)
  edit <id>                  change title, content or source URL
  tag <id> <tag,...>         replace the tag set
  delete <id>                delete a record
  show <id>                  print a record
  list [tag]                 list records, newest first
  search <terms...>          full-text search
  attach <id> <path>         attach a file
  sync                       synchronize with the remote store
  queue [retry <id>|purge]   inspect the retry queue
  conflicts                  recent conflict resolutions
  export [--binaries]        write an encrypted archive
  import <path>              apply an encrypted archive
  archives                   export history
  reindex                    rebuild the search index
  exit | quit                leave the program`

// errUsage marks a command invoked with the wrong arguments.
var errUsage = errors.New("usage")

func usage(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errUsage, fmt.Sprintf(format, args...))
}

// runREPL starts a read–eval–print loop for the memovault CLI.
//
// It reads a line from reader, parses the first token as the command and
// passes the remaining tokens to the matching method on a. Command errors
// are printed with their error code and never stop the loop. The loop exits
// on EOF, when ctx is done, or when the user types "exit" or "quit".
func runREPL(ctx context.Context, a execIface, statusFn func() string, reader *bufio.Reader) {
	for {
		if ctx.Err() != nil {
			return
		}
		printlnFn(fmt.Sprintf("mv %s> ", statusFn()))
		line, err := reader.ReadString('\n')
		if err != nil && (!errors.Is(err, io.EOF) || line == "") {
			return
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		var run func(context.Context, []string) error
		switch cmd {
		case "help":
			printlnFn(helpText)
		case "add":
			run = a.Add
		case "edit":
			run = a.Edit
		case "tag":
			run = a.Tag
		case "delete", "rm":
			run = a.Delete
		case "show":
			run = a.Show
		case "l", "list":
			run = a.List
		case "search", "s":
			run = a.Search
		case "attach":
			run = a.Attach
		case "sync":
			run = a.Sync
		case "queue":
			run = a.Queue
		case "conflicts":
			run = a.Conflicts
		case "export":
			run = a.Export
		case "import":
			run = a.Import
		case "archives":
			run = a.Archives
		case "reindex":
			run = a.Reindex
		case "exit", "quit":
			printlnFn("Bye!")
			return
		default:
			printlnFn("Unknown command:", cmd)
		}

		if run == nil {
			continue
		}
		if err := run(ctx, args); err != nil {
			printlnFn(describe(err))
		}
	}
}

func describe(err error) string {
	if errors.Is(err, errUsage) {
		return err.Error()
	}
	return fmt.Sprintf("error [%s]: %v", common.ErrorCode(err), err)
}
