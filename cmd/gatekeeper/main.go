// Command gatekeeper runs the admission control service and its operator
// tooling.
package main

func main() {
	Execute()
}
