package main

import "github.com/sw33tLie/spacescope/cmd"

func main() {
	cmd.Execute()
}
