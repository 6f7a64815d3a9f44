// Package main - Atlas GORM schema loader for the ephemera tables
package main

import (
	"fmt"
	"os"

	"ariga.io/atlas-provider-gorm/gormschema"
	"github.com/alwitt/ephemera/db"
	"github.com/apex/log"
)

// Usage: atlas-migrate [postgres|sqlite]
func main() {
	dialect := "postgres"
	if len(os.Args) > 1 {
		dialect = os.Args[1]
	}
	if dialect != "postgres" && dialect != "sqlite" {
		log.WithField("dialect", dialect).Fatal("Unsupported dialect")
	}

	stmts, err := gormschema.New(dialect).Load(db.AllTables()...)
	if err != nil {
		log.WithError(err).Fatal("Failed to load GORM models")
	}
	fmt.Printf("%s\n", stmts)
}
