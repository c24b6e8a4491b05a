package main

import (
	"os"

	"github.com/nortal/cmz-chatbots/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
