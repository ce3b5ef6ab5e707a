// Command summarize turns task fields into short first-person status lines.
package main

func main() {
	Execute()
}
