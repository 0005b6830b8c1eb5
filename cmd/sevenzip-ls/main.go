// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Command sevenzip-ls lists, and optionally extracts, the entries of a 7z
// archive.
package main

import (
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/saferwall/sevenzip"
	"github.com/saferwall/sevenzip/archivefs"
)

type config struct {
	extractTo string
	password  string
	parallel  int
}

func main() {
	cfg := config{}
	flag.StringVar(&cfg.extractTo, "x", "", "extract all entries to this directory instead of listing them")
	flag.StringVar(&cfg.password, "p", "", "password, for encrypted archives")
	flag.IntVar(&cfg.parallel, "j", 1, "number of blocks to extract concurrently (only with -x)")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: sevenzip-ls [-x dir] [-p password] [-j n] <archive.7z>")
		os.Exit(2)
	}
	path := flag.Arg(0)

	opts := &sevenzip.ReaderOptions{}
	if cfg.password != "" {
		opts.Password = []byte(cfg.password)
	}

	r, err := sevenzip.Open(path, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open %s: %v\n", path, err)
		os.Exit(1)
	}
	defer r.Close()

	if cfg.extractTo != "" {
		if cfg.parallel > 1 {
			err = archivefs.ExtractAllParallel(r, cfg.extractTo, cfg.parallel)
		} else {
			err = archivefs.ExtractAll(r, cfg.extractTo)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "extract: %v\n", err)
			os.Exit(1)
		}
		return
	}

	list(r)
}

func list(r *sevenzip.Reader) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SIZE\tCRC\tATTR\tNAME")
	for _, e := range r.Entries() {
		kind := "-"
		if e.IsDir {
			kind = "d"
		} else if e.IsAnti {
			kind = "a"
		}
		crc := "-"
		if e.HasCRC {
			crc = fmt.Sprintf("%08x", e.CRC)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", e.Size, crc, kind, e.Name)
	}
	tw.Flush()
}
