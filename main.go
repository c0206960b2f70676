package main

import "github.com/takutakahashi/portalgate/cmd"

func main() {
	cmd.Execute()
}
