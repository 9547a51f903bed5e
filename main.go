package main

import "github.com/threadclaw/threadclaw/cmd"

func main() {
	cmd.Execute()
}
