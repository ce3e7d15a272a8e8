package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/peterh/liner"

	"github.com/turbocache/turbocache/pkg/turbocache"
)

// REPL is an interactive shell over an open Cache.
type REPL struct {
	cache *turbocache.Cache
	dir   string
	liner *liner.State
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".turbocache_history")
}

// Run starts the REPL loop, reading commands until exit/EOF/Ctrl-D.
func (r *REPL) Run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(r.completer)

	if f, err := os.Open(historyFile()); err == nil {
		r.liner.ReadHistory(f)
		f.Close()
	}

	fmt.Printf("turbocache-cli - %s\n", r.dir)
	fmt.Println("Type 'help' for available commands.")
	fmt.Println()

	for {
		line, err := r.liner.Prompt("turbocache> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || err == io.EOF {
				fmt.Println("\nBye!")

				break
			}

			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		r.liner.AppendHistory(line)

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "exit", "quit", "q":
			fmt.Println("Bye!")
			r.saveHistory()

			return nil

		case "help", "?":
			r.printHelp()

		case "set", "put":
			r.cmdSet(args)

		case "get":
			r.cmdGet(args)

		case "del", "delete":
			r.cmdDel(args)

		case "iter", "scan", "ls", "list":
			r.cmdIter(args)

		case "count", "len":
			r.cmdCount()

		case "stat", "info":
			r.cmdStat()

		case "clear", "cls":
			fmt.Print("\033[H\033[2J")

		default:
			fmt.Printf("unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}

	r.saveHistory()

	return nil
}

func (r *REPL) saveHistory() {
	if path := historyFile(); path != "" {
		if f, err := os.Create(path); err == nil {
			r.liner.WriteHistory(f)
			f.Close()
		}
	}
}

func (r *REPL) completer(line string) []string {
	commands := []string{"set", "get", "del", "iter", "count", "stat", "help", "exit"}

	var out []string

	for _, c := range commands {
		if strings.HasPrefix(c, line) {
			out = append(out, c)
		}
	}

	return out
}

func (r *REPL) printHelp() {
	fmt.Println(`Commands:
  set <key> <value>   Insert or replace an entry
  get <key>           Look up an entry
  del <key>           Delete an entry
  iter [limit]        List entries (default limit 50, 0 for all)
  count               Show total entry count
  stat                Show cache directory info
  clear               Clear the screen
  help                Show this help
  exit                Exit`)
}

func (r *REPL) cmdSet(args []string) {
	if len(args) < 2 {
		fmt.Println("usage: set <key> <value>")

		return
	}

	result, err := r.cache.Set([]byte(args[0]), []byte(strings.Join(args[1:], " ")))
	if err != nil {
		fmt.Printf("error: %v\n", err)

		return
	}

	switch result {
	case turbocache.Inserted:
		fmt.Println("inserted")
	case turbocache.Replaced:
		fmt.Println("replaced")
	}
}

func (r *REPL) cmdGet(args []string) {
	if len(args) != 1 {
		fmt.Println("usage: get <key>")

		return
	}

	val, found, err := r.cache.Get([]byte(args[0]))
	if err != nil {
		fmt.Printf("error: %v\n", err)

		return
	}

	if !found {
		fmt.Println("(not found)")

		return
	}

	fmt.Printf("%s\n", val)
}

func (r *REPL) cmdDel(args []string) {
	if len(args) != 1 {
		fmt.Println("usage: del <key>")

		return
	}

	_, found, err := r.cache.Del([]byte(args[0]))
	if err != nil {
		fmt.Printf("error: %v\n", err)

		return
	}

	if !found {
		fmt.Println("(not found)")

		return
	}

	fmt.Println("deleted")
}

func (r *REPL) cmdIter(args []string) {
	limit := 50

	if len(args) == 1 {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			fmt.Println("usage: iter [limit]")

			return
		}

		limit = n
	}

	entries, err := r.cache.Collect()
	if err != nil {
		fmt.Printf("error: %v\n", err)

		return
	}

	sort.Slice(entries, func(i, j int) bool {
		return string(entries[i].Key) < string(entries[j].Key)
	})

	shown := 0

	for _, e := range entries {
		if limit > 0 && shown >= limit {
			fmt.Printf("... (%d more)\n", len(entries)-shown)

			break
		}

		fmt.Printf("%s = %s\n", e.Key, e.Value)

		shown++
	}

	if len(entries) == 0 {
		fmt.Println("(empty)")
	}
}

func (r *REPL) cmdCount() {
	total, err := r.cache.TotalCount()
	if err != nil {
		fmt.Printf("error: %v\n", err)

		return
	}

	fmt.Println(total)
}

func (r *REPL) cmdStat() {
	fmt.Printf("dir: %s\n", r.dir)

	total, err := r.cache.TotalCount()
	if err != nil {
		fmt.Printf("error: %v\n", err)

		return
	}

	fmt.Printf("entries: %d\n", total)
}
