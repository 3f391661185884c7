package main

import "github.com/clipdeck/server/cmd/server/cmd"

func main() {
	cmd.Execute()
}
