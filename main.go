/*
Copyright © 2022 Nicholas McKinney
*/
package main

import "github.com/SabreTools/BinaryObjectScanner-sub006/cmd"

func main() {
	cmd.Execute()
}
