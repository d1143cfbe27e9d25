// Package store persists processed emails in SQLite.
//
// Each row combines the parsed message with its classification. The
// message ID is the primary key, so reprocessing a mailbox never
// duplicates rows.
package store
