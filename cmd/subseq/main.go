// Command subseq checks queries against a reference from the command line.
//
//	subseq -reference ahbgdc abc axc bgd
//
// With no query arguments it reads one query per line from stdin.
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/subseq-matcher/internal/matcher"
	"github.com/Adithya-Monish-Kumar-K/subseq-matcher/pkg/logger"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "subseq: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("subseq", flag.ContinueOnError)
	fs.SetOutput(stderr)
	reference := fs.String("reference", "", "reference sequence to match queries against")
	naive := fs.Bool("naive", false, "use the two-pointer scan instead of the position index")
	positions := fs.Bool("positions", false, "print the matched reference offsets")
	logLevel := fs.String("log-level", "warn", "log level (debug, info, warn, error)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	logger.SetupWriter(stderr, *logLevel, "text")

	lazy := matcher.NewLazy()
	refSet := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "reference" {
			refSet = true
		}
	})
	if refSet {
		if err := lazy.Preprocess(*reference); err != nil {
			return err
		}
	}

	answer := func(query string) error {
		m, err := lazy.Matcher()
		if err != nil {
			return fmt.Errorf("query %q: %w (pass -reference)", query, err)
		}
		var (
			matched []int
			ok      bool
		)
		if *naive {
			matched, ok = matcher.MatchPositions(query, m.Reference())
		} else {
			matched, ok = m.Match(query)
		}
		slog.Debug("query answered", "query", query, "matched", ok, "naive", *naive)
		if *positions && ok {
			fmt.Fprintf(stdout, "%s\t%t\t%s\n", query, ok, formatPositions(matched))
			return nil
		}
		fmt.Fprintf(stdout, "%s\t%t\n", query, ok)
		return nil
	}

	if fs.NArg() > 0 {
		for _, q := range fs.Args() {
			if err := answer(q); err != nil {
				return err
			}
		}
		return nil
	}

	scanner := bufio.NewScanner(stdin)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if err := answer(strings.TrimRight(scanner.Text(), "\r")); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("reading queries: %w", err)
	}
	return nil
}

func formatPositions(positions []int) string {
	parts := make([]string, len(positions))
	for i, p := range positions {
		parts[i] = fmt.Sprint(p)
	}
	return strings.Join(parts, ",")
}
