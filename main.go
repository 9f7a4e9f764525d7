package main

import "github.com/marquee/marquee/cmd"

func main() {
	cmd.Execute()
}
