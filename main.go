package main

import (
	"log"
	"os"

	"example.com/parkwise/services/iot/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Println(err)
		os.Exit(1)
	}
}
