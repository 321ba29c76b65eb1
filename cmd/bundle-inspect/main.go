// bundle-inspect prints the contents of a bundle container.
//
// Usage:
//
//	bundle-inspect <command> <container> [-p path]
//
// Commands props, info, fileprops and file print the requested blob as
// lowercase hex followed by a newline. The container is always opened
// read-only, except by compact.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/opencontainers/go-digest"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/meigma/bundle"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

// errUsage marks errors caused by bad command-line input.
var errUsage = errors.New("usage error")

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type options struct {
	path    string
	output  string
	digests bool
	verbose bool
}

func run(args []string, stdout, stderr io.Writer) int {
	var opts options
	flagSet := pflag.NewFlagSet("bundle-inspect", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVarP(&opts.path, "path", "p", "", "file path inside the bundle (fileprops, file)")
	flagSet.StringVarP(&opts.output, "output", "o", "", "destination container (compact; default: in place)")
	flagSet.BoolVarP(&opts.digests, "digest", "d", false, "print the sha256 digest of each file (ls)")
	flagSet.BoolVarP(&opts.verbose, "verbose", "v", false, "log debug output to stderr")
	flagSet.Usage = func() { printUsage(stderr, flagSet) }

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	rest := flagSet.Args()
	if len(rest) != 2 {
		printUsage(stderr, flagSet)
		return exitUsage
	}

	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	if err := dispatch(rest[0], rest[1], opts, logger, stdout); err != nil {
		fmt.Fprintf(stderr, "bundle-inspect: %v\n", err)
		if errors.Is(err, errUsage) {
			return exitUsage
		}
		return exitError
	}
	return exitOK
}

func printUsage(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(w, `Usage: bundle-inspect <command> <container> [flags]

Commands:
  props       print the Public bundle attribute as hex
  info        print the System bundle attribute as hex
  fileprops   print the properties of the file at -p as hex
  file        print the data of the file at -p as hex
  ls          list live file paths (-d adds content digests)
  stat        print container statistics as YAML
  compact     rewrite the container without deleted files

Flags:
%s`, flagSet.FlagUsages())
}

func dispatch(command, container string, opts options, logger *slog.Logger, stdout io.Writer) error {
	if command == "compact" {
		return compact(container, opts, logger, stdout)
	}

	var handler func(*bundle.Bundle, options, io.Writer) error
	switch command {
	case "props":
		handler = attributeHandler(bundle.Public)
	case "info":
		handler = attributeHandler(bundle.System)
	case "fileprops":
		handler = fileProps
	case "file":
		handler = fileData
	case "ls":
		handler = list
	case "stat":
		handler = stat
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, command)
	}

	b, err := bundle.Open(container, bundle.WithReadOnly(true), bundle.WithLogger(logger))
	if err != nil {
		return err
	}
	defer b.Close()
	return handler(b, opts, stdout)
}

func printHex(w io.Writer, data []byte) error {
	_, err := fmt.Fprintln(w, hex.EncodeToString(data))
	return err
}

func attributeHandler(slot bundle.Slot) func(*bundle.Bundle, options, io.Writer) error {
	return func(b *bundle.Bundle, _ options, w io.Writer) error {
		data, err := b.GetBundleAttribute(slot)
		if err != nil {
			return err
		}
		return printHex(w, data)
	}
}

func requirePath(opts options) error {
	if opts.path == "" {
		return fmt.Errorf("%w: -p is required", errUsage)
	}
	return nil
}

func fileProps(b *bundle.Bundle, opts options, w io.Writer) error {
	if err := requirePath(opts); err != nil {
		return err
	}
	data, err := b.FileProperties(opts.path)
	if err != nil {
		return err
	}
	return printHex(w, data)
}

func fileData(b *bundle.Bundle, opts options, w io.Writer) error {
	if err := requirePath(opts); err != nil {
		return err
	}
	fd, err := b.OpenFile(opts.path)
	if err != nil {
		return err
	}
	defer b.CloseFile(fd)

	size, err := b.GetFileSize(opts.path)
	if err != nil {
		return err
	}
	data, err := b.ReadBlock(fd, int(size))
	if err != nil {
		return err
	}
	return printHex(w, data)
}

func list(b *bundle.Bundle, opts options, w io.Writer) error {
	files, err := b.GetFiles()
	if err != nil {
		return err
	}
	for _, f := range files {
		if !opts.digests {
			if _, err := fmt.Fprintln(w, f); err != nil {
				return err
			}
			continue
		}
		data, err := b.ReadFile(f)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "%s  %s\n", digest.SHA256.FromBytes(data), f); err != nil {
			return err
		}
	}
	return nil
}

// statReport is the YAML shape printed by stat.
type statReport struct {
	Files            int    `yaml:"files"`
	Tombstones       int    `yaml:"tombstones"`
	ContainerSize    int64  `yaml:"container_size"`
	DataEnd          uint64 `yaml:"data_end"`
	FreeBytes        uint64 `yaml:"free_bytes"`
	FreeExtents      int    `yaml:"free_extents"`
	Generation       uint64 `yaml:"generation"`
	AttributesDigest string `yaml:"attributes_digest"`
	IndexDigest      string `yaml:"index_digest"`
	Attributes       struct {
		System  int `yaml:"system"`
		Public  int `yaml:"public"`
		Private int `yaml:"private"`
	} `yaml:"attribute_sizes"`
}

func stat(b *bundle.Bundle, _ options, w io.Writer) error {
	st, err := b.Stats()
	if err != nil {
		return err
	}
	report := statReport{
		Files:            st.Files,
		Tombstones:       st.Tombstones,
		ContainerSize:    st.ContainerSize,
		DataEnd:          st.DataEnd,
		FreeBytes:        st.FreeBytes,
		FreeExtents:      st.FreeExtents,
		Generation:       st.Generation,
		AttributesDigest: st.AttributesDigest.String(),
		IndexDigest:      st.IndexDigest.String(),
	}
	for slot, dst := range map[bundle.Slot]*int{
		bundle.System:  &report.Attributes.System,
		bundle.Public:  &report.Attributes.Public,
		bundle.Private: &report.Attributes.Private,
	} {
		data, err := b.GetBundleAttribute(slot)
		if err != nil {
			return err
		}
		*dst = len(data)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(report); err != nil {
		return err
	}
	return enc.Close()
}

func compact(container string, opts options, logger *slog.Logger, w io.Writer) error {
	stats, err := bundle.Compact(context.Background(), container, opts.output, bundle.CompactWithLogger(logger))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%d files, %d tombstones dropped, %d -> %d bytes\n",
		stats.Files, stats.TombstonesDropped, stats.SizeBefore, stats.SizeAfter)
	return err
}
