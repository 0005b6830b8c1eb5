// Copyright 2021 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Command sevenzip-create walks a directory and writes its contents to a
// new 7z archive.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/saferwall/sevenzip"
	"github.com/saferwall/sevenzip/archivefs"
)

var (
	password string
	solid    bool
	method   string
	preset   int
)

func main() {
	root := &cobra.Command{
		Use:   "sevenzip-create <output.7z> <directory>",
		Short: "Create a 7z archive from a directory",
		Args:  cobra.ExactArgs(2),
		RunE:  run,
	}
	root.Flags().StringVarP(&password, "password", "p", "", "encrypt the archive with this password")
	root.Flags().BoolVar(&solid, "solid", true, "pack all files into one solid block")
	root.Flags().StringVar(&method, "method", "lzma2", "content codec: lzma2, lzma, bzip2, deflate, zstd, brotli, lz4, copy")
	root.Flags().IntVar(&preset, "preset", 6, "compression preset, 0-9 (lzma/lzma2 only)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(_ *cobra.Command, args []string) error {
	dst, srcDir := args[0], args[1]

	m, err := parseMethod(method)
	if err != nil {
		return err
	}

	opts := &sevenzip.WriterOptions{
		Solid:          sevenzip.Bool(solid),
		ContentMethods: []sevenzip.EncoderConfiguration{{Method: m, Preset: preset}},
	}
	if password != "" {
		opts.Password = []byte(password)
	}

	return archivefs.CompressFromPath(dst, srcDir, opts)
}

func parseMethod(s string) (sevenzip.Method, error) {
	switch s {
	case "copy":
		return sevenzip.MethodCopy, nil
	case "lzma":
		return sevenzip.MethodLZMA, nil
	case "lzma2":
		return sevenzip.MethodLZMA2, nil
	case "bzip2":
		return sevenzip.MethodBZIP2, nil
	case "deflate":
		return sevenzip.MethodDeflate, nil
	case "zstd":
		return sevenzip.MethodZSTD, nil
	case "brotli":
		return sevenzip.MethodBrotli, nil
	case "lz4":
		return sevenzip.MethodLZ4, nil
	default:
		return 0, fmt.Errorf("unknown method %q", s)
	}
}
