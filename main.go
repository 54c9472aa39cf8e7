package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path"
	"syscall"

	"github.com/carlmjohnson/versioninfo"
	"github.com/dustin/go-humanize"
	"github.com/iancoleman/strcase"
	"github.com/urfave/cli/v2"

	"github.com/pdok/mbtilesmap/mercator"
)

const MBTILES string = `mbtiles`
const RATIO string = `ratio`
const TILEMATRIXSET string = `tilematrixset`
const LAT string = `lat`
const LON string = `lon`
const ZOOM string = `zoom`
const WIDTH string = `width`
const HEIGHT string = `height`
const OUTPUT string = `output`
const OVERWRITE string = `overwrite`

//nolint:funlen
func main() {
	app := cli.NewApp()
	app.Name = "mbtilesmap"
	app.Usage = "Inspect and render raster MBTiles maps"
	app.Version = versioninfo.Short()

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:     MBTILES,
			Aliases:  []string{"m"},
			Usage:    "Source MBTiles file",
			Required: true,
			EnvVars:  []string{strcase.ToScreamingSnake(MBTILES)},
		},
		&cli.Float64Flag{
			Name:     RATIO,
			Aliases:  []string{"r"},
			Usage:    "Device pixel ratio of the display, e.g. 2 for a high density screen",
			Value:    1.0,
			Required: false,
			EnvVars:  []string{strcase.ToScreamingSnake(RATIO)},
		},
		&cli.StringFlag{
			Name:     TILEMATRIXSET,
			Aliases:  []string{"t"},
			Usage:    "Tile matrix set (JSON) in EPSG:3857 describing the pyramid, e.g. the output of tms. Defaults to the embedded WebMercatorQuad",
			Required: false,
			EnvVars:  []string{strcase.ToScreamingSnake(TILEMATRIXSET)},
		},
	}

	app.Commands = []*cli.Command{
		{
			Name:  "info",
			Usage: "Print the zoom range, bounds and metadata of the map",
			Action: func(c *cli.Context) error {
				return info(os.Stdout, c.String(MBTILES), c.Float64(RATIO), c.String(TILEMATRIXSET))
			},
		},
		{
			Name:  "tms",
			Usage: "Print the tile pyramid of the map as an OGC tile matrix set (JSON)",
			Action: func(c *cli.Context) error {
				return describe(os.Stdout, c.String(MBTILES), c.Float64(RATIO), c.String(TILEMATRIXSET))
			},
		},
		{
			Name:  "render",
			Usage: "Render a viewport of the map to PNG",
			Flags: []cli.Flag{
				&cli.Float64Flag{
					Name:    LAT,
					Usage:   "Latitude of the center of the viewport. Defaults to the center of the map",
					EnvVars: []string{strcase.ToScreamingSnake(LAT)},
				},
				&cli.Float64Flag{
					Name:    LON,
					Usage:   "Longitude of the center of the viewport. Defaults to the center of the map",
					EnvVars: []string{strcase.ToScreamingSnake(LON)},
				},
				&cli.IntFlag{
					Name:    ZOOM,
					Aliases: []string{"z"},
					Usage:   "Zoom level. -1 fits the bounds of the map in the viewport",
					Value:   -1,
					EnvVars: []string{strcase.ToScreamingSnake(ZOOM)},
				},
				&cli.IntFlag{
					Name:    WIDTH,
					Usage:   "Width of the viewport in logical pixels",
					Value:   1024,
					EnvVars: []string{strcase.ToScreamingSnake(WIDTH)},
				},
				&cli.IntFlag{
					Name:    HEIGHT,
					Usage:   "Height of the viewport in logical pixels",
					Value:   768,
					EnvVars: []string{strcase.ToScreamingSnake(HEIGHT)},
				},
				&cli.StringFlag{
					Name:    OUTPUT,
					Aliases: []string{"o"},
					Usage:   "Target PNG. Defaults to the name of the map suffixed with the zoom level. E.g. world_5.png",
					EnvVars: []string{strcase.ToScreamingSnake(OUTPUT)},
				},
				&cli.BoolFlag{
					Name:    OVERWRITE,
					Usage:   "Overwrite the target PNG if it exists",
					EnvVars: []string{strcase.ToScreamingSnake(OVERWRITE)},
				},
			},
			Action: func(c *cli.Context) error {
				opts := renderOptions{
					ratio:     c.Float64(RATIO),
					zoom:      c.Int(ZOOM),
					width:     c.Int(WIDTH),
					height:    c.Int(HEIGHT),
					output:    c.String(OUTPUT),
					overwrite: c.Bool(OVERWRITE),
				}
				if c.IsSet(LAT) || c.IsSet(LON) {
					opts.center = &mercator.Coordinates{Lon: c.Float64(LON), Lat: c.Float64(LAT)}
				}
				result, err := render(c.String(MBTILES), opts)
				if err != nil {
					return err
				}
				log.Printf("rendered %d tiles at zoom %d (%.2f m/px) into %s (%s)",
					result.tiles, result.zoom, result.resolution, result.output, humanize.Bytes(result.size))
				return nil
			},
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

func removeIfExists(p string) error {
	err := os.Remove(p)
	var pathError *os.PathError
	if err != nil && !(errors.As(err, &pathError) && errors.Is(pathError.Err, syscall.ENOENT)) {
		return fmt.Errorf("could not remove target file: %w", err)
	}
	return nil
}

// injectSuffixIntoPath replaces the extension of p by ext, preceded by a suffix placeholder.
func injectSuffixIntoPath(p string, ext string) string {
	dir, file := path.Split(p)
	name := file[:len(file)-len(path.Ext(file))]
	return path.Join(dir, name+"_%v"+ext)
}
