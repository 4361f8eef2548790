package main

import (
	"log"

	"github.com/queueprobe/queueprobe/cmd/probectl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
