// SPDX-License-Identifier: MPL-2.0

// Command venvoy manages portable, container-backed data science
// environments across workstations and HPC clusters.
package main

func main() {
	Execute()
}
