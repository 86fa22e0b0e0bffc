package main

import "github.com/forgedist/forgedist/cmd/forgedist-promoter/cmd"

func main() {
	cmd.Execute()
}
