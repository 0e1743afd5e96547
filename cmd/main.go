package main

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"

	"github.com/dargueta/xv6fs/config"
	"github.com/dargueta/xv6fs/disks"
	"github.com/dargueta/xv6fs/driver"
	"github.com/dargueta/xv6fs/errors"
	"github.com/dargueta/xv6fs/utilities/compression"
	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
	"github.com/urfave/cli/v2"
)

func main() {
	app := cli.App{
		Name:  "xv6fs",
		Usage: "Create and manage xv6 file system images",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML settings file",
				EnvVars: []string{config.EnvPrefix + "_CONFIG_FILE"},
			},
			&cli.StringFlag{
				Name:    "image",
				Aliases: []string{"i"},
				Usage:   "path to the disk image, overriding the settings file",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "format",
				Usage: "Create or wipe an image",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "geometry",
						Aliases: []string{"g"},
						Usage:   fmt.Sprintf("one of %v", disks.Slugs()),
					},
				},
				Action: formatImage,
			},
			{
				Name:   "layout",
				Usage:  "Show where each region of the image lives",
				Action: withDriver(showLayout),
			},
			{
				Name:   "stats",
				Usage:  "Show buffer cache statistics after mounting",
				Action: withDriver(showStats),
			},
			{
				Name:   "ls",
				Usage:  "List the files in the image",
				Action: withDriver(listFiles),
			},
			{
				Name:      "put",
				Usage:     "Copy a host file (or stdin) into the image",
				ArgsUsage: "NAME [SOURCE]",
				Action:    withDriver(putFile),
			},
			{
				Name:      "cat",
				Usage:     "Print a file from the image",
				ArgsUsage: "NAME",
				Action:    withDriver(catFile),
			},
			{
				Name:      "rm",
				Usage:     "Delete a file from the image",
				ArgsUsage: "NAME",
				Action:    withDriver(removeFile),
			},
			{
				Name:      "snapshot",
				Usage:     "Write a compressed copy of the image",
				ArgsUsage: "OUTPUT",
				Action:    snapshotImage,
			},
			{
				Name:      "restore",
				Usage:     "Replace the image with the contents of a snapshot",
				ArgsUsage: "SNAPSHOT",
				Action:    restoreImage,
			},
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatalf("fatal error: %s", err.Error())
	}
}

// loadSettings reads the settings file and environment, then applies the
// global flags on top.
func loadSettings(ctx *cli.Context) (config.Config, *slog.Logger, error) {
	settings, err := config.Load(ctx.String("config"))
	if err != nil {
		return config.Config{}, nil, err
	}
	if image := ctx.String("image"); image != "" {
		settings.Image = image
	}
	return settings, settings.NewLogger(os.Stderr), nil
}

// withDriver mounts the configured image, runs `action`, then unmounts it.
func withDriver(action func(d *driver.Driver, ctx *cli.Context) error) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		settings, logger, err := loadSettings(ctx)
		if err != nil {
			return err
		}

		d, err := driver.OpenImage(settings.Image, driver.OptionsFromConfig(settings, logger))
		if err != nil {
			return fmt.Errorf("opening %s: %w", settings.Image, err)
		}

		err = action(d, ctx)
		if unmountErr := d.Unmount(); unmountErr != nil {
			err = multierror.Append(err, unmountErr)
		}
		return err
	}
}

func requireArgs(ctx *cli.Context, min, max int) error {
	if n := ctx.NArg(); n < min || n > max {
		return errors.Errorf(
			errors.EINVAL, "%s: expected %s, got %d arguments",
			ctx.Command.Name, ctx.Command.ArgsUsage, n)
	}
	return nil
}

func formatImage(ctx *cli.Context) error {
	settings, logger, err := loadSettings(ctx)
	if err != nil {
		return err
	}

	slug := settings.Geometry
	if flag := ctx.String("geometry"); flag != "" {
		slug = flag
	}
	geometry, err := disks.GetPredefinedGeometry(slug)
	if err != nil {
		return err
	}

	d, err := driver.CreateImage(
		settings.Image, geometry, driver.OptionsFromConfig(settings, logger))
	if err != nil {
		return err
	}
	fmt.Printf(
		"Formatted %s as %s (%s)\n",
		settings.Image,
		geometry.Name,
		humanize.IBytes(uint64(geometry.TotalSizeBytes())),
	)
	return d.Unmount()
}

func showLayout(d *driver.Driver, ctx *cli.Context) error {
	fileSystem, err := d.FileSystem()
	if err != nil {
		return err
	}
	return fileSystem.PrintLayout(os.Stdout)
}

func showStats(d *driver.Driver, ctx *cli.Context) error {
	fileSystem, err := d.FileSystem()
	if err != nil {
		return err
	}
	return fileSystem.PrintCacheStats(os.Stdout)
}

func listFiles(d *driver.Driver, ctx *cli.Context) error {
	entries, err := d.ReadDir()
	if err != nil {
		return err
	}

	for _, entry := range entries {
		stat, err := d.Stat(entry.Name)
		if err != nil {
			return err
		}
		fmt.Printf(
			"%-14s %4s %5d %6d\n", entry.Name, stat.Type, stat.Inode, stat.Size)
	}
	return nil
}

func putFile(d *driver.Driver, ctx *cli.Context) error {
	if err := requireArgs(ctx, 1, 2); err != nil {
		return err
	}

	var source io.Reader = os.Stdin
	if ctx.NArg() == 2 {
		file, err := os.Open(ctx.Args().Get(1))
		if err != nil {
			return err
		}
		defer file.Close()
		source = file
	}

	data, err := io.ReadAll(source)
	if err != nil {
		return err
	}
	return d.WriteFile(ctx.Args().First(), data)
}

func catFile(d *driver.Driver, ctx *cli.Context) error {
	if err := requireArgs(ctx, 1, 1); err != nil {
		return err
	}
	data, err := d.ReadFile(ctx.Args().First())
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}

func removeFile(d *driver.Driver, ctx *cli.Context) error {
	if err := requireArgs(ctx, 1, 1); err != nil {
		return err
	}
	return d.Remove(ctx.Args().First())
}

func snapshotImage(ctx *cli.Context) error {
	if err := requireArgs(ctx, 1, 1); err != nil {
		return err
	}
	settings, _, err := loadSettings(ctx)
	if err != nil {
		return err
	}

	image, err := os.Open(settings.Image)
	if err != nil {
		return err
	}
	defer image.Close()

	output, err := os.Create(ctx.Args().First())
	if err != nil {
		return err
	}

	n, err := compression.CompressImage(image, output)
	if closeErr := output.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}
	fmt.Printf("Wrote %s snapshot to %s\n", humanize.IBytes(uint64(n)), ctx.Args().First())
	return nil
}

func restoreImage(ctx *cli.Context) error {
	if err := requireArgs(ctx, 1, 1); err != nil {
		return err
	}
	settings, logger, err := loadSettings(ctx)
	if err != nil {
		return err
	}

	snapshot, err := os.Open(ctx.Args().First())
	if err != nil {
		return err
	}
	defer snapshot.Close()

	// Expand into memory first so a damaged snapshot never clobbers the image.
	raw, err := compression.DecompressImageToBytes(snapshot)
	if err != nil {
		return err
	}
	if err = os.WriteFile(settings.Image, raw, 0o644); err != nil {
		return err
	}

	d, err := driver.OpenImage(settings.Image, driver.OptionsFromConfig(settings, logger))
	if err != nil {
		return fmt.Errorf("restored image doesn't mount: %w", err)
	}
	fmt.Printf("Restored %s to %s\n", humanize.IBytes(uint64(len(raw))), settings.Image)
	return d.Unmount()
}
