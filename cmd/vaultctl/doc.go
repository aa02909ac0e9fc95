// Command vaultctl drives the record vault API from the command line: open
// a session, process and retrieve records, manage access requests and
// permissions, invoke emergency access, and inspect audit trails and
// compliance reports.
package main
