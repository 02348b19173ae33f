package main

import "github.com/jmcleod/ironwire/cmd/ironwire/cmd"

func main() {
	cmd.Execute()
}
