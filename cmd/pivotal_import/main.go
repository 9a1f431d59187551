package main

import "pivotaltoshortcut/utils"

func main() {
	utils.Exit(newRootCmd().Execute())
}
