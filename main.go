// Command sortagree runs spike-sorter output comparisons: pairwise
// matching against a reference, multi-sorter agreement extraction, sorter
// invocation, curation round trips and result persistence.
package main

import (
	"fmt"
	"log"
	"os"
)

const usageText = `usage: sortagree <command> [flags]

commands:
  compare      match a test train set against a reference and report performance
  agreement    build a multi-sorter agreement graph and extract consensus units
  sort         invoke an external spike sorter on a raw recording
  export-phy   export a train set as a phy-style curation project
  import-phy   re-import a curated project as a train set
  db-save      store a train set in the results database
  db-list      list stored train sets

run "sortagree <command> -h" for the command's flags
`

func main() {
	log.SetFlags(0)

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usageText)
		os.Exit(2)
	}

	cmd, args := os.Args[1], os.Args[2:]

	var err error
	switch cmd {
	case "compare":
		err = runCompare(args)
	case "agreement":
		err = runAgreement(args)
	case "sort":
		err = runSort(args)
	case "export-phy":
		err = runExportPhy(args)
	case "import-phy":
		err = runImportPhy(args)
	case "db-save":
		err = runDbSave(args)
	case "db-list":
		err = runDbList(args)
	case "help", "-h", "--help":
		fmt.Print(usageText)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usageText)
		os.Exit(2)
	}

	if err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
}
