package main

import "example.com/cqlwire/cmd"

func main() {
	cmd.Execute()
}
