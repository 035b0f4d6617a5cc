package main

import "github.com/civiops/adyen-connect/cmd"

func main() {
	cmd.Execute()
}
