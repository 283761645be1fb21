package main

import "github.com/notargets/gopatch/cmd"

func main() {
	cmd.Execute()
}
