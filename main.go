package main

import "github.com/openrelay/claude-relay/cmd"

func main() {
	cmd.Execute()
}
