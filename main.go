package main

import "github.com/sonifyv1/posebridge/cmd"

func main() {
	cmd.Execute()
}
