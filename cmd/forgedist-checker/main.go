package main

import (
	"github.com/forgedist/forgedist/cmd/forgedist-checker/cmd"
)

func main() {
	cmd.Execute()
}
