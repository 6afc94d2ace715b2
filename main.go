package main

import "github.com/andresmejia3/blinkauth/cmd"

func main() {
	cmd.Execute()
}
