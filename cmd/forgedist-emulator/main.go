package main

import (
	"github.com/forgedist/forgedist/cmd/forgedist-emulator/cmd"
)

func main() {
	cmd.Execute()
}
