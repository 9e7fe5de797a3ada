package main

import "github.com/boxhub/boxhub/cmd/boxhub/cmd"

func main() {
	cmd.Execute()
}
