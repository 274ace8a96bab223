// Command netboot-inspect is a read-only diagnostic tool: open an image,
// list its partitions, and report FAT details for one of them.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/netbootd/netbootd/diskimage"
	"github.com/netbootd/netbootd/fat"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "netboot-inspect:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "netboot-inspect",
		Short: "inspect partitions and FAT file systems inside a disk image",
	}
	root.AddCommand(partitionsCmd(), fsCmd(), dumpCmd())
	return root
}

func dumpCmd() *cobra.Command {
	var partNum int
	cmd := &cobra.Command{
		Use:   "dump <image>",
		Short: "write one partition's raw bytes to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := diskimage.Open(args[0], diskimage.ReadOnly)
			if err != nil {
				return err
			}
			defer img.Close()

			parts, err := img.Partitions()
			if err != nil {
				return err
			}
			part, err := parts.Get(partNum)
			if err != nil {
				return err
			}
			_, err = io.Copy(os.Stdout, part.Stream())
			return err
		},
	}
	cmd.Flags().IntVarP(&partNum, "partition", "p", 1, "partition number to dump")
	return cmd
}

func partitionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "partitions <image>",
		Short: "list the partitions found in an image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := diskimage.Open(args[0], diskimage.ReadOnly)
			if err != nil {
				return err
			}
			defer img.Close()

			parts, err := img.Partitions()
			if err != nil {
				return err
			}
			list, err := parts.List()
			if err != nil {
				return err
			}
			fmt.Printf("scheme: %s\n", parts.Style())
			for _, p := range list {
				fmt.Printf("  %2d  type=%-8v label=%-16q size=%d bytes\n", p.Number, p.Type, p.Label, len(p.Data))
			}
			return nil
		},
	}
}

func fsCmd() *cobra.Command {
	var partNum int
	cmd := &cobra.Command{
		Use:   "fs <image>",
		Short: "report FAT type, label, and free space of one partition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := diskimage.Open(args[0], diskimage.ReadOnly)
			if err != nil {
				return err
			}
			defer img.Close()

			parts, err := img.Partitions()
			if err != nil {
				return err
			}
			part, err := parts.Get(partNum)
			if err != nil {
				return err
			}
			fs, err := fat.Open(part.Data, true)
			if err != nil {
				return err
			}
			fmt.Printf("type:           %s\n", fs.Type())
			fmt.Printf("label:          %q\n", fs.Label())
			fmt.Printf("cluster size:   %d bytes\n", fs.ClusterSize())
			fmt.Printf("free clusters:  %d\n", fs.Table().FreeClusterCount())
			return nil
		},
	}
	cmd.Flags().IntVarP(&partNum, "partition", "p", 1, "partition number to open")
	return cmd
}
