// The main package for the sheriffcrawler executable.
package main

import "github.com/JakeFAU/sheriff-roster-crawler/cmd"

func main() {
	cmd.Execute()
}
