// Package dialect abstracts the SQL database a journal writes to.
//
// Each dialect is identified by a constant string that doubles as the
// database/sql driver name:
//
//	dialect.SQLite   = "sqlite"
//	dialect.Postgres = "postgres"
//	dialect.MySQL    = "mysql"
//
// The Driver interface is implemented by dialect/sql. Statements are written
// with '?' placeholders and rebound for the target dialect before they reach
// the database:
//
//	drv, err := sql.Open(dialect.SQLite, "file:journal.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer drv.Close()
//
// Any Driver can be wrapped with sql.Debug or sql.WithStats to log
// statements or count them.
package dialect
