package main

import "github.com/raushankrgupta/photo-restorer/cmd"

func main() {
	cmd.Execute()
}
