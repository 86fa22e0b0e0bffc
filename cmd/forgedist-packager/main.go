package main

import (
	"github.com/forgedist/forgedist/cmd/forgedist-packager/cmd"
)

func main() {
	cmd.Execute()
}
