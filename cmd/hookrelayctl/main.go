package main

import (
	"log"

	"github.com/streamhaven/hookrelay/cmd/hookrelayctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
