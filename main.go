package main

import "github.com/dhcgn/mail-receiver/cmd"

func main() {
	cmd.Execute()
}
