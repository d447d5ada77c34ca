package main

import (
	"os"

	"github.com/avelin0/sage/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
