package main

import (
	"log"

	coordinatord "github.com/aodhgan/closest-number/services/coordinatord"
)

func main() {
	if err := coordinatord.Main(); err != nil {
		log.Fatalf("coordinatord: %v", err)
	}
}
