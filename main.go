package main

import "consogab/cmd"

func main() {
	cmd.Execute()
}
