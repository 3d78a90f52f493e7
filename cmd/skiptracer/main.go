// Package main provides the skiptracer command line.
//
// Usage:
//
//	skiptracer lookup 123 Main St, Springfield, IL
//	skiptracer batch --input addresses.csv --output results.csv
//	skiptracer proxies import proxies.txt --kind mobile
//	skiptracer serve
package main

func main() {
	Execute()
}
