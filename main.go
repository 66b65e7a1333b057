package main

import (
	"log"

	"ticket-engine/cmd"
	_ "ticket-engine/migrations"
)

func main() {
	if err := cmd.Start(); err != nil {
		log.Fatal(err)
	}
}
