// Package backlog is the durable log of fleet-health maintenance events.
// External monitors add node_missing and disk_replace tasks; operators list,
// query and resolve them. Tasks are stored in the bbolt fleet database.
package backlog
