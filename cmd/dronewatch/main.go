package main

import (
	"os"

	"dronewatch.eu/core/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
