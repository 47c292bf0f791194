package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	altofs "github.com/altofs/altofs"
	"github.com/altofs/altofs/alto/geometry"
	"github.com/altofs/altofs/alto/rda"
)

func main() {
	app := &cli.App{
		Usage: "Inspect and manipulate Xerox Alto disk images",
		Commands: []*cli.Command{
			{
				Name:      "format",
				Usage:     "Write a fresh, empty file system to one or two image files",
				Action:    formatImage,
				ArgsUsage: "IMAGE_PATH[,IMAGE_PATH]",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "geometry", Value: "diablo31", Usage: "diablo31 or diablo44"},
				},
			},
			{
				Name:      "check",
				Usage:     "Validate an image, optionally repairing it",
				Action:    checkImage,
				ArgsUsage: "IMAGE_PATH",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "fix", Usage: "run consistency repair and write the result back"},
				},
			},
			{
				Name:      "ls",
				Usage:     "List the files on an image",
				Action:    listFiles,
				ArgsUsage: "IMAGE_PATH",
			},
			{
				Name:      "stat",
				Usage:     "Show one file's metadata",
				Action:    statFile,
				ArgsUsage: "IMAGE_PATH NAME",
			},
			{
				Name:      "cat",
				Usage:     "Print one file's contents to stdout",
				Action:    catFile,
				ArgsUsage: "IMAGE_PATH NAME",
			},
			{
				Name:      "put",
				Usage:     "Copy a host file into the image, creating or overwriting it",
				Action:    putFile,
				ArgsUsage: "IMAGE_PATH HOST_FILE NAME",
			},
			{
				Name:      "rm",
				Usage:     "Delete a file from the image",
				Action:    removeFile,
				ArgsUsage: "IMAGE_PATH NAME",
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("fatal error: %s", err.Error())
	}
}

func mountArg(context *cli.Context, flags altofs.MountFlags) (*altofs.Engine, error) {
	path := context.Args().Get(0)
	if path == "" {
		return nil, fmt.Errorf("missing IMAGE_PATH argument")
	}
	return altofs.Mount(altofs.Config{Image: path, Flags: flags, Logger: log.Default()})
}

func formatImage(context *cli.Context) error {
	path := context.Args().Get(0)
	if path == "" {
		return fmt.Errorf("missing IMAGE_PATH argument")
	}
	dg, ok := geometry.Lookup(context.String("geometry"))
	if !ok {
		return fmt.Errorf("unknown geometry %q", context.String("geometry"))
	}
	geom := rda.Geometry{NCylinders: dg.NCylinders, NHeads: dg.NHeads, NSectors: dg.NSectors}
	return altofs.Format([]string{path}, geom)
}

func checkImage(context *cli.Context) error {
	flags := altofs.MountFlags(0)
	if context.Bool("fix") {
		flags |= altofs.MountForceRepair
	} else {
		flags |= altofs.MountReadOnly
	}

	e, err := mountArg(context, flags)
	if err != nil {
		return err
	}

	fmt.Printf("state: %s\n", e.State())
	if res := e.LastRepair(); res != nil {
		for _, f := range res.Findings {
			fmt.Println(f)
		}
	}
	return e.Unmount()
}

func listFiles(context *cli.Context) error {
	e, err := mountArg(context, altofs.MountReadOnly)
	if err != nil {
		return err
	}
	defer e.Unmount()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()
	for _, d := range e.ReadDir() {
		info, err := d.Info()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%d\t%s\n", info.Name(), info.Size(), info.ModTime().Format("2006-01-02 15:04:05"))
	}
	return nil
}

func statFile(context *cli.Context) error {
	e, err := mountArg(context, altofs.MountReadOnly)
	if err != nil {
		return err
	}
	defer e.Unmount()

	name := context.Args().Get(1)
	info, err := e.GetAttr("/" + name)
	if err != nil {
		return err
	}
	fmt.Printf("name:     %s\n", info.Name())
	fmt.Printf("size:     %d\n", info.Size())
	fmt.Printf("mode:     %s\n", info.Mode())
	fmt.Printf("modified: %s\n", info.ModTime())
	return nil
}

func catFile(context *cli.Context) error {
	e, err := mountArg(context, altofs.MountReadOnly)
	if err != nil {
		return err
	}
	defer e.Unmount()

	name := context.Args().Get(1)
	h, err := e.Open("/" + name)
	if err != nil {
		return err
	}

	buf := make([]byte, geometry.PAGESZ)
	var offset uint64
	for {
		n, err := e.Read(h, buf, offset)
		if n > 0 {
			os.Stdout.Write(buf[:n])
			offset += uint64(n)
		}
		if err != nil || n == 0 {
			break
		}
	}
	return nil
}

func putFile(context *cli.Context) error {
	e, err := mountArg(context, altofs.MountFlags(0))
	if err != nil {
		return err
	}
	defer e.Unmount()

	hostPath := context.Args().Get(1)
	name := context.Args().Get(2)
	if hostPath == "" || name == "" {
		return fmt.Errorf("usage: put IMAGE_PATH HOST_FILE NAME")
	}

	src, err := os.Open(hostPath)
	if err != nil {
		return err
	}
	defer src.Close()

	h, err := e.Open("/" + name)
	if err != nil {
		h, err = e.Create("/" + name)
		if err != nil {
			return err
		}
	} else if err := e.Truncate("/"+name, 0); err != nil {
		return err
	}

	buf := make([]byte, geometry.PAGESZ)
	var offset uint64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := e.Write(h, buf[:n], offset); werr != nil {
				return werr
			}
			offset += uint64(n)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return rerr
		}
	}
	return nil
}

func removeFile(context *cli.Context) error {
	e, err := mountArg(context, altofs.MountFlags(0))
	if err != nil {
		return err
	}
	defer e.Unmount()

	name := context.Args().Get(1)
	return e.Unlink("/" + name)
}
