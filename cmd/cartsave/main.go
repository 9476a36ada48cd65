package main

import "github.com/Wokann/GEN3-NDSMysteryGiftTool/cmd/cartsave/cmd"

func main() {
	cmd.Execute()
}
