package main

import "distbank/cmd/distbank/cmd"

func main() {
	cmd.Execute()
}
