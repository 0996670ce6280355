// main.go
// Entry point for the defense probe application
package main

import (
	"log"
	"os"

	"github.com/pace-noge/defense-probe/cmd"
)

func main() {
	app := cmd.NewRootApp()

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
