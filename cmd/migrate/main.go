package main

import (
	"fmt"
	"os"

	"bitbucket.org/mmdatafocus/finance_backend/config"
	"bitbucket.org/mmdatafocus/finance_backend/models"
)

func main() {
	db, err := config.ConnectDatabaseWithRetry()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect database: %v\n", err)
		os.Exit(1)
	}
	if err := models.MigrateTable(db); err != nil {
		fmt.Fprintf(os.Stderr, "migration failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("migration completed")
}
