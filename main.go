package main

import "github.com/pigforge/gopig/cmd"

func main() {
	cmd.Execute()
}
