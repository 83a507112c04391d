package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"

	"visionsdk/internal/cli"
)

func main() {
	// VISION_* defaults may come from a .env in the working directory.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "visionctl: load .env: %v\n", err)
	}
	os.Exit(cli.Main())
}
