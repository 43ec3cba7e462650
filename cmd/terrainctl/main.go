// terrainctl is a CLI for creating, baking, sculpting and exporting
// streaming terrain projects.
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "new":
		cmdNew(args)
	case "bake":
		cmdBake(args)
	case "brush":
		cmdBrush(args)
	case "info":
		cmdInfo(args)
	case "recent":
		cmdRecent(args)
	case "rename":
		cmdRename(args)
	case "export-heights":
		cmdExportHeights(args)
	case "export-obj":
		cmdExportOBJ(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`terrainctl - streaming terrain project utility

Usage:
  terrainctl <command> [options] <project-dir>

Commands:
  new <dir>                      Create a project and bake the area around the origin
  bake <dir>                     Bake the chunks in view of a position and save
  brush <dir>                    Apply a brush drag and save
  info <dir>                     Show project and map information
  recent                         List recently opened projects
  rename <dir> <name>            Rename a project and its folder
  export-heights <dir>           Print one chunk's heights as base64, optionally as a TIFF
  export-obj <dir>               Write the loaded chunks as a Wavefront OBJ

Common options:
  -config <file>     Config file (default: ./terrain.yaml, then the user config dir)
  -backend cpu|gl    Compute backend
  -seed <n>          World seed for new terrain
  -view-distance <n> View distance in chunks
  -debug             Debug logging

Examples:
  terrainctl new -name "Green Valley" ./valley
  terrainctl bake -x 512 -z -256 ./valley
  terrainctl brush -kind raise -x 10 -z 10 -radius 12 -steps 20 ./valley
  terrainctl export-heights -chunk 0,0 -tiff chunk.tif ./valley
  terrainctl export-obj -o valley.obj -lod 1 ./valley`)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
