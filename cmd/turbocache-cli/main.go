// Command turbocache-cli is an interactive REPL for inspecting and
// exercising a TurboCache directory: open it, run set/get/del/iter/stat, and
// close it again. It is a worked example over the public package, not part
// of the cache's own implementation.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	flag "github.com/spf13/pflag"

	"github.com/turbocache/turbocache/pkg/turbocache"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "turbocache-cli:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("turbocache-cli", flag.ContinueOnError)

	dir := fs.StringP("dir", "d", "", "cache directory to open (required)")
	initialCapacity := fs.Uint64P("capacity", "c", 0, "initial capacity for a freshly created cache")
	writeback := fs.StringP("writeback", "w", "none", `durability mode: "none" or "sync"`)
	configPath := fs.String("config", "", "path to a turbocache.hujson config file (flags override it)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if *dir == "" {
		return fmt.Errorf("--dir is required")
	}

	opts := turbocache.Options{Dir: *dir, InitialCapacity: *initialCapacity}

	if *configPath == "" {
		*configPath = filepath.Join(*dir, "turbocache.hujson")
	}

	fileCfg, err := readFileConfig(*configPath)
	if err != nil {
		return err
	}

	if opts.InitialCapacity == 0 {
		opts.InitialCapacity = fileCfg.InitialCapacity
	}

	wb := *writeback
	if !fs.Changed("writeback") && fileCfg.Writeback != "" {
		wb = fileCfg.Writeback
	}

	mode, err := fileConfig{Writeback: wb}.writebackMode()
	if err != nil {
		return err
	}

	opts.Writeback = mode

	cache, err := turbocache.Open(opts)
	if err != nil {
		return fmt.Errorf("open %s: %w", *dir, err)
	}

	defer cache.Close()

	repl := &REPL{cache: cache, dir: *dir}

	return repl.Run()
}
