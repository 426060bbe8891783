// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to configuration file",
		Value:   "config.toml",
	}
}

func verboseFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:    "verbose",
		Aliases: []string{"v"},
		Usage:   "Enable debug logging",
	}
}

// mergeCommand runs the two-database variant: legacy source into leporid.
func mergeCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "merge",
		Usage: "Migrate users and images from the legacy database into leporid",
		Flags: []cli.Flag{
			configFlag(),
			verboseFlag(),
			&cli.StringFlag{
				Name:  "source",
				Usage: "Legacy database URL",
			},
			&cli.StringFlag{
				Name:  "leporid",
				Usage: "Leporid database URL",
			},
			&cli.IntFlag{
				Name:  "batch-size",
				Usage: "Rows per upsert statement",
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Run every section, then roll back all transactions",
			},
			&cli.StringFlag{
				Name:  "admin-user-id",
				Usage: "Target user that adopts images uploaded anonymously",
			},
		},
		Action: r.Merge,
	}
}

// mergeUpCommand runs the three-database variant: legacy source into leporid
// and usagipass.
func mergeUpCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "merge-up",
		Usage: "Migrate users, accounts, ratings, preferences and images into leporid & usagipass",
		Flags: []cli.Flag{
			configFlag(),
			verboseFlag(),
			&cli.StringFlag{
				Name:  "source",
				Usage: "Legacy database URL",
			},
			&cli.StringFlag{
				Name:  "leporid",
				Usage: "Leporid database URL",
			},
			&cli.StringFlag{
				Name:  "usagipass",
				Usage: "Usagipass database URL",
			},
			&cli.IntFlag{
				Name:  "batch-size",
				Usage: "Rows per upsert statement",
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Run every section, then roll back all transactions",
			},
			&cli.StringFlag{
				Name:  "mapping",
				Usage: "Path to an image-reference override mapping (JSON, old id -> new id)",
			},
		},
		Action: r.MergeUp,
	}
}

// copyImgCommand relocates the image files behind migrated tbl_image rows.
func copyImgCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "copy-img",
		Usage: "Copy migrated image files between asset directories",
		Flags: []cli.Flag{
			configFlag(),
			verboseFlag(),
			&cli.StringFlag{
				Name:  "source-dir",
				Usage: "Directory holding the legacy image files",
			},
			&cli.StringFlag{
				Name:  "target-dir",
				Usage: "Directory receiving the copied files",
			},
			&cli.StringFlag{
				Name:  "leporid",
				Usage: "Leporid database URL providing the image id list",
			},
			&cli.BoolFlag{
				Name:  "overwrite",
				Usage: "Replace files already present in the target directory",
			},
		},
		Action: r.CopyImg,
	}
}

// setupCommand writes a starter config.toml.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Create a configuration file from the embedded template",
		Flags: []cli.Flag{
			configFlag(),
		},
		Action: r.Setup,
	}
}
