package cmd

import (
	"fmt"
)

const banner = `
  _  __                        _       
 | |/ /___ _   _  __ _  __ _| |_ ___ 
 | ' // _ \ | | |/ _` + "`" + ` |/ _` + "`" + ` | __/ _ \
 | . \  __/ |_| | (_| | (_| | ||  __/
 |_|\_\___|\__, |\__, |\__,_|\__\___|
           |___/ |___/               
`

func printBanner() {
	fmt.Printf("\x1b[34m%s\x1b[0m", banner)
	fmt.Printf("\x1b[32m  Session Token Dev Server - Version %s\x1b[0m\n\n", Version)
}
