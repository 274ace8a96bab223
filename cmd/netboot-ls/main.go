// Command netboot-ls lists a directory, or stats a file, inside a FAT
// partition of a disk image: a minimal read-only sliver of a shell-like
// tool, enough to exercise fatpath.Path.Iterdir/Stat from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/netbootd/netbootd/diskimage"
	"github.com/netbootd/netbootd/fat"
	"github.com/netbootd/netbootd/fatpath"
)

type rootParameters struct {
	Image     string `short:"f" long:"image" description:"disk image file" required:"true"`
	Partition int    `short:"p" long:"partition" description:"partition number" default:"1"`
	Long      bool   `short:"l" long:"long" description:"show entry type and size, like ls -l"`
}

var rootArguments = new(rootParameters)

func main() {
	parser := flags.NewParser(rootArguments, flags.Default)
	args, err := parser.Parse()
	if err != nil {
		os.Exit(1)
	}
	path := "/"
	if len(args) > 0 {
		path = args[0]
	}

	if err := run(path); err != nil {
		fmt.Fprintln(os.Stderr, "netboot-ls:", err)
		os.Exit(1)
	}
}

func run(path string) error {
	img, err := diskimage.Open(rootArguments.Image, diskimage.ReadOnly)
	if err != nil {
		return err
	}
	defer img.Close()

	parts, err := img.Partitions()
	if err != nil {
		return err
	}
	part, err := parts.Get(rootArguments.Partition)
	if err != nil {
		return err
	}
	fs, err := fat.Open(part.Data, true)
	if err != nil {
		return err
	}

	p := fatpath.FromSlash(fs, path)
	if !p.Exists() {
		return fmt.Errorf("%s: no such file or directory", path)
	}

	if !p.IsDir() {
		return printEntry(p)
	}
	children, err := p.Iterdir()
	if err != nil {
		return err
	}
	for _, c := range children {
		if err := printEntry(c); err != nil {
			return err
		}
	}
	return nil
}

func printEntry(p fatpath.Path) error {
	if !rootArguments.Long {
		fmt.Println(p.Name())
		return nil
	}
	info, err := p.Stat()
	if err != nil {
		return err
	}
	kind := "-"
	if p.IsDir() {
		kind = "d"
	}
	fmt.Printf("%s %10d %s\n", kind, info.Size, p.Name())
	return nil
}
