package main

import "nendo/cmd"

func main() {
	cmd.Execute()
}
