package main

import (
	"log"
	"os"

	"github.com/Trinoooo/eggie_echo/cli"
)

func main() {
	wrapper := cli.NewWrapper()
	if err := wrapper.Run(os.Args); err != nil {
		log.Fatalln(err)
	}
}
