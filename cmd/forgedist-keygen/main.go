package main

import (
	"github.com/forgedist/forgedist/cmd/forgedist-keygen/cmd"
)

func main() {
	cmd.Execute()
}
