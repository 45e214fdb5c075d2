// Package packages loads the migration plans contributed by installed
// packages. Each package ships a YAML manifest:
//
//	name: forms
//	description: Contact forms
//	steps:
//	  - from: ""
//	    to: "1"
//	    sql: |
//	      CREATE TABLE forms (id INTEGER PRIMARY KEY, name TEXT NOT NULL);
//	  - from: "1"
//	    to: "2"
//	    script: |
//	      def main():
//	          for row in query("SELECT id, name FROM forms"):
//	              exec("UPDATE forms SET name = ? WHERE id = ?", row["name"].strip(), row["id"])
//	      main()
//
// Manifests are checked by struct tags and by a CUE schema. Step scripts are
// Starlark and reach the database only through the exec and query builtins,
// inside the step's transaction.
package packages
