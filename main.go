package main

import "github.com/jmehdipour/dm-dispatcher/cmd"

func main() {
	cmd.Execute()
}
